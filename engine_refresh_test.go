package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	te := newTestEngine(t)
	te.createUser(t, "alice", false)
	ctx := context.Background()

	first := te.login(t, ctx, "alice").Tokens
	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.FamilyID != first.FamilyID {
		t.Fatalf("rotation must stay in family: %s != %s", second.FamilyID, first.FamilyID)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenTheftDetected) {
		t.Fatalf("replay: expected theft detection, got %v", err)
	}
	if _, err := te.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenTheftDetected) {
		t.Fatalf("successor must be burned with the family, got %v", err)
	}

	te.Close()
	events := te.auditEvents()
	if !hasEvent(events, AuditSessionRefreshed) || !hasEvent(events, AuditTokenTheftDetected) {
		t.Fatalf("missing audit events: %+v", events)
	}
	if te.MetricsSnapshot().Counters[MetricRefreshReuseDetected] != 2 {
		t.Fatalf("reuse counter = %d", te.MetricsSnapshot().Counters[MetricRefreshReuseDetected])
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	te := newTestEngine(t)
	te.createUser(t, "alice", false)
	ctx := context.Background()
	tokens := te.login(t, ctx, "alice").Tokens

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		theft    int
		unknowns []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.Refresh(ctx, tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrTokenTheftDetected):
				theft++
			default:
				unknowns = append(unknowns, err)
			}
		}()
	}
	wg.Wait()

	if len(unknowns) > 0 {
		t.Fatalf("unexpected errors: %v", unknowns)
	}
	if success != 1 || theft != n-1 {
		t.Fatalf("success=%d theft=%d", success, theft)
	}
}

func TestRefreshInvalidTokens(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "malformed", token: "not a token"},
		{name: "unknown", token: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := te.Refresh(ctx, tc.token)
			if !errors.Is(err, ErrRefreshInvalid) {
				t.Fatalf("expected invalid token, got %v", err)
			}
			if ErrorCode(err) != CodeInvalidToken {
				t.Fatalf("unexpected code %q", ErrorCode(err))
			}
		})
	}
}

func TestRefreshExpiry(t *testing.T) {
	te := newTestEngine(t, withConfig(func(c *Config) {
		c.Session.RefreshTTL = time.Hour
		c.Session.AbsoluteLifetime = 3 * time.Hour
		c.JWT.AccessTTL = 15 * time.Minute
	}))
	te.createUser(t, "alice", false)
	ctx := context.Background()

	tokens := te.login(t, ctx, "alice").Tokens
	te.clock.Advance(2 * time.Hour)
	if _, err := te.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expired token: %v", err)
	}

	tokens = te.login(t, ctx, "alice").Tokens
	for i := 0; i < 3; i++ {
		te.clock.Advance(50 * time.Minute)
		next, err := te.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		tokens = next
	}
	te.clock.Advance(50 * time.Minute)
	if _, err := te.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("absolute lifetime must not be extended by rotation, got %v", err)
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	te := newTestEngine(t)
	u := te.createUser(t, "alice", false)
	ctx := context.Background()

	tokens := te.login(t, ctx, "alice").Tokens
	if err := te.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := te.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("inactive user refresh: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("inactive user access token: %v", err)
	}
}

func TestRefreshThrottleWithRedis(t *testing.T) {
	te := newTestEngine(t, withRedis(), withConfig(func(c *Config) {
		c.RateLimit.EnableRefreshThrottle = true
		c.RateLimit.MaxRefreshAttempts = 2
		c.RateLimit.RefreshWindow = time.Minute
	}))
	te.createUser(t, "alice", false)
	ctx := context.Background()

	tokens := te.login(t, ctx, "alice").Tokens
	for i := 0; i < 2; i++ {
		next, err := te.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		tokens = next
	}
	_, err := te.Refresh(ctx, tokens.RefreshToken)
	if !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected refresh throttle, got %v", err)
	}

	te.redis.FastForward(2 * time.Minute)
	if _, err := te.Refresh(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("throttled token must still rotate after the window: %v", err)
	}
}

func TestLogoutRevokesFamily(t *testing.T) {
	te := newTestEngine(t)
	te.createUser(t, "alice", false)
	ctx := context.Background()

	tokens := te.login(t, ctx, "alice").Tokens
	if err := te.Logout(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := te.Refresh(ctx, tokens.RefreshToken); err == nil {
		t.Fatal("logged out token must not refresh")
	}
	if err := te.Logout(ctx, "unknown-token"); err != nil {
		t.Fatalf("unknown token logout should be a no-op, got %v", err)
	}
}

func TestLogoutAllRevokesEveryFamily(t *testing.T) {
	te := newTestEngine(t)
	u := te.createUser(t, "alice", false)
	ctx := context.Background()

	a := te.login(t, ctx, "alice").Tokens
	b := te.login(t, ctx, "alice").Tokens
	n, err := te.LogoutAll(ctx, u.ID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked tokens, got %d", n)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := te.Refresh(ctx, tok); err == nil {
			t.Fatal("token survived logout-all")
		}
	}
}

func TestValidateAccessRejectsGarbage(t *testing.T) {
	te := newTestEngine(t)
	if _, err := te.ValidateAccess(context.Background(), "abc.def.ghi"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRefreshRetryAfterExpiryIsNotTheft(t *testing.T) {
	te := newTestEngine(t, withConfig(func(c *Config) {
		c.Session.RefreshTTL = time.Hour
	}))
	te.createUser(t, "alice", false)
	ctx := context.Background()

	tokens := te.login(t, ctx, "alice").Tokens
	te.clock.Advance(2 * time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := te.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("attempt %d: expected session expired, got %v", i+1, err)
		}
	}

	te.Close()
	if hasEvent(te.auditEvents(), AuditTokenTheftDetected) {
		t.Fatal("passive expiry must not be audited as theft")
	}
}
