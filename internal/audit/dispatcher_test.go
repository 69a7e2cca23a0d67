package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: false}, sink)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "login-success"})
	d.Close()
	if sink.count.Load() != 0 {
		t.Fatalf("expected no sink calls, got %d", sink.count.Load())
	}
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login-failure"})
	}
	d.Close()
	if got := sink.count.Load(); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
}

func TestDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBlockIfFullWaitsForSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestBlockIfFullHonoursContext(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "e3"})
	if time.Since(start) > time.Second {
		t.Fatal("expected cancelled context to release blocked emit")
	}
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Now().UTC(),
		EventType: "login-success",
		UserID:    42,
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), Event{EventType: "logout", UserID: 42, Success: true})

	out := buf.String()
	if !strings.Contains(out, `"event_type":"login-success"`) {
		t.Fatalf("expected event type in %q", out)
	}
	if !strings.Contains(out, `"user_id":42`) {
		t.Fatalf("expected numeric user id in %q", out)
	}
	if n := strings.Count(out, "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
}

func TestJSONWriterSinkOmitsZeroUser(t *testing.T) {
	var buf syncBuffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: "login-failure"})
	if strings.Contains(buf.String(), "user_id") {
		t.Fatalf("expected user_id omitted, got %q", buf.String())
	}
}

func TestChannelSinkBuffers(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{EventType: "logout"})
	select {
	case ev := <-sink.Events():
		if ev.EventType != "logout" {
			t.Fatalf("unexpected event %q", ev.EventType)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, &countingSink{})
	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "e2"})
}

func TestDropsWarnOnFirstAndPeriodically(t *testing.T) {
	sink := newGateSink()
	var warnings []string
	var mu sync.Mutex
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		Warn: func(format string, args ...any) {
			mu.Lock()
			warnings = append(warnings, fmt.Sprintf(format, args...))
			mu.Unlock()
		},
	}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	// The gated sink holds one event and the buffer holds another.
	for i := 0; i < dropWarnEvery+7; i++ {
		d.Emit(context.Background(), Event{EventType: "mfa-failed", UserID: 7})
	}

	mu.Lock()
	defer mu.Unlock()
	if d.Dropped() < dropWarnEvery {
		t.Fatalf("dropped %d", d.Dropped())
	}
	if len(warnings) != 2 {
		t.Fatalf("expected two warnings, got %q", warnings)
	}
	if !strings.Contains(warnings[0], "mfa-failed for user 7") {
		t.Fatalf("warning %q", warnings[0])
	}
}

func TestSinkFuncReceivesEvents(t *testing.T) {
	var got []string
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, SinkFunc(func(_ context.Context, ev Event) {
		got = append(got, ev.EventType)
	}))
	d.Emit(context.Background(), Event{EventType: "login-success"})
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()
	if strings.Join(got, ",") != "login-success,logout" {
		t.Fatalf("delivered %v", got)
	}
}

type failingWriter struct{ writes int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestJSONWriterSinkStopsAfterWriteError(t *testing.T) {
	w := &failingWriter{}
	sink := NewJSONWriterSink(w)
	sink.Emit(context.Background(), Event{EventType: "login-success"})
	sink.Emit(context.Background(), Event{EventType: "logout"})
	if sink.Err() == nil || w.writes != 1 {
		t.Fatalf("err=%v writes=%d", sink.Err(), w.writes)
	}
}

func TestChannelSinkCountsMissed(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), Event{EventType: "e1"})
	sink.Emit(context.Background(), Event{EventType: "e2"})
	if sink.Missed() != 1 {
		t.Fatalf("missed %d", sink.Missed())
	}
}
