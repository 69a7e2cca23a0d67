package limiters

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMFAMaxFailures = 5
	defaultMFAWindow      = 15 * time.Minute
	defaultMFACapacity    = 10000
)

var ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

// MFAAttemptConfig holds thresholds for the attempt tracker. Zero fields fall
// back to 5 failures / 15 minutes / 10000 tracked keys.
type MFAAttemptConfig struct {
	MaxFailures int
	Window      time.Duration
	Capacity    int
}

type attemptEntry struct {
	failures  int
	windowEnd time.Time
}

// MFAAttemptTracker counts failed second-factor verifications per user and
// method inside a window that starts at the first failure. Concurrent
// increments may occasionally be lost, which only ever delays a lockout.
type MFAAttemptTracker struct {
	mu          sync.Mutex
	entries     *expirable.LRU[string, *attemptEntry]
	maxFailures int
	window      time.Duration
	now         func() time.Time
}

func NewMFAAttemptTracker(cfg MFAAttemptConfig) *MFAAttemptTracker {
	max := cfg.MaxFailures
	if max <= 0 {
		max = defaultMFAMaxFailures
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultMFAWindow
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultMFACapacity
	}
	return &MFAAttemptTracker{
		entries:     expirable.NewLRU[string, *attemptEntry](capacity, nil, window),
		maxFailures: max,
		window:      window,
		now:         time.Now,
	}
}

// WithClock replaces the tracker's time source.
func (t *MFAAttemptTracker) WithClock(now func() time.Time) *MFAAttemptTracker {
	if t != nil && now != nil {
		t.now = now
	}
	return t
}

func key(userID int64, method string) string {
	return method + ":" + strconv.FormatInt(userID, 10)
}

// Check reports ErrMFAAttemptsExceeded while the user is locked out of method.
func (t *MFAAttemptTracker) Check(userID int64, method string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(key(userID, method))
	if !ok || t.now().After(e.windowEnd) {
		return nil
	}
	if e.failures >= t.maxFailures {
		return ErrMFAAttemptsExceeded
	}
	return nil
}

// RecordFailure adds one failure and returns the count inside the current
// window. It returns ErrMFAAttemptsExceeded once the count reaches the limit.
func (t *MFAAttemptTracker) RecordFailure(userID int64, method string) (int, error) {
	if t == nil {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(userID, method)
	now := t.now()
	e, ok := t.entries.Get(k)
	if !ok || now.After(e.windowEnd) {
		e = &attemptEntry{windowEnd: now.Add(t.window)}
		t.entries.Add(k, e)
	}
	e.failures++
	if e.failures >= t.maxFailures {
		return e.failures, ErrMFAAttemptsExceeded
	}
	return e.failures, nil
}

// Reset forgets failures for user and method after a success.
func (t *MFAAttemptTracker) Reset(userID int64, method string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key(userID, method))
}

// Failures returns the failures counted in the current window.
func (t *MFAAttemptTracker) Failures(userID int64, method string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(key(userID, method))
	if !ok || t.now().After(e.windowEnd) {
		return 0
	}
	return e.failures
}
