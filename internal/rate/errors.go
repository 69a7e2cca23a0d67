package rate

import "errors"

var (
	// ErrRateLimited means the fixed window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps client failures; callers decide whether to fail open.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
