// Package prometheus exposes engine counters and latency histograms through
// a prometheus.Collector.
//
// Counter names are identity_*_total; histograms are
// identity_{login,refresh,validate}_latency_seconds with the engine's fixed
// bucket bounds. Callers mount Handler or register the collector on their
// own registry.
package prometheus
