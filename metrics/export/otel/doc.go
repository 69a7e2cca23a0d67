// Package otel publishes engine counters and latency histograms as
// OpenTelemetry observable instruments.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. Callers supply the Meter and own its provider.
package otel
