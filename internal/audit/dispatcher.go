package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// dropWarnEvery spaces out drop warnings after the first one.
const dropWarnEvery = 1000

// Config controls buffering. A disabled config yields a nil Dispatcher,
// which accepts and discards events.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the buffer is full instead of
	// blocking the caller until there is room or ctx is done.
	DropIfFull bool
	// Warn is told about the first dropped event and every
	// dropWarnEvery-th drop after it.
	Warn func(format string, args ...any)
}

// Dispatcher relays events to a Sink on a single background goroutine, so
// sink latency never sits on a login or refresh path.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	warn       func(string, ...any)

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	stopped chan struct{}
	dropped atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		warn:       cfg.Warn,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stopped:    make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.stopped)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues ev for delivery. Events emitted after Close are discarded
// without counting as drops.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.drop(ev)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.drop(ev)
	}
}

func (d *Dispatcher) drop(ev Event) {
	n := d.dropped.Add(1)
	if d.warn != nil && (n == 1 || n%dropWarnEvery == 0) {
		d.warn("audit: %d events dropped so far, latest %s for user %d", n, ev.EventType, ev.UserID)
	}
}

// Close stops intake and returns once every queued event has reached the
// sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped is the number of events lost to a full buffer or a cancelled
// context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
