package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

func (h *harness) loginTokens() *SessionTokens {
	h.t.Helper()
	out, err := h.service().Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	if err != nil {
		h.t.Fatalf("login: %v", err)
	}
	if out.Tokens == nil {
		h.t.Fatalf("expected tokens, got %+v", out)
	}
	return out.Tokens
}

func TestRefreshRotatesWithinFamily(t *testing.T) {
	h := newHarness(t)
	first := h.loginTokens()
	ctx := context.Background()

	h.advance(time.Minute)
	res := h.service().Refresh(ctx, first.RefreshToken)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: kind=%d err=%v", res.Failure, res.Err)
	}
	if res.Tokens.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if res.FamilyID != first.FamilyID || res.UserID != h.user.ID {
		t.Fatalf("family %q user %d", res.FamilyID, res.UserID)
	}

	claims, err := h.tokens.ParseAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SID != first.FamilyID || claims.Username != "alice" {
		t.Fatalf("claims %+v", claims)
	}
}

func TestRefreshReuseBurnsFamily(t *testing.T) {
	h := newHarness(t)
	first := h.loginTokens()
	ctx := context.Background()

	second := h.service().Refresh(ctx, first.RefreshToken)
	if second.Failure != RefreshFailureNone {
		t.Fatalf("first rotation failed: %v", second.Err)
	}

	replay := h.service().Refresh(ctx, first.RefreshToken)
	if replay.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got kind=%d err=%v", replay.Failure, replay.Err)
	}
	if replay.UserID != h.user.ID || replay.FamilyID != first.FamilyID || replay.Revoked != 1 {
		t.Fatalf("reuse result %+v", replay)
	}

	if res := h.service().Refresh(ctx, second.Tokens.RefreshToken); res.Failure != RefreshFailureReuse {
		t.Fatalf("legitimate successor must be dead after reuse, got kind=%d", res.Failure)
	}
}

func TestRefreshAbsoluteLifetime(t *testing.T) {
	h := newHarness(t)
	h.deps.Session.RefreshTTL = time.Hour
	h.deps.Session.AbsoluteLifetime = 2 * time.Hour
	h.deps.Refresh.RefreshTTL = time.Hour
	h.deps.Refresh.AbsoluteLifetime = 2 * time.Hour
	ctx := context.Background()

	tokens := h.loginTokens()
	start := h.now
	current := tokens.RefreshToken
	for i := 0; i < 2; i++ {
		h.advance(50 * time.Minute)
		res := h.service().Refresh(ctx, current)
		if res.Failure != RefreshFailureNone {
			t.Fatalf("rotation %d failed: kind=%d err=%v", i, res.Failure, res.Err)
		}
		if res.Tokens.RefreshExpiresAt.After(start.Add(2 * time.Hour)) {
			t.Fatalf("expiry %v past absolute deadline", res.Tokens.RefreshExpiresAt)
		}
		current = res.Tokens.RefreshToken
	}

	h.advance(50 * time.Minute)
	res := h.service().Refresh(ctx, current)
	if res.Failure != RefreshFailureSessionExpired && res.Failure != RefreshFailureExpired {
		t.Fatalf("expected expiry, got kind=%d err=%v", res.Failure, res.Err)
	}
	if !errors.Is(res.Err, session.ErrSessionExpired) && !errors.Is(res.Err, session.ErrTokenExpired) {
		t.Fatalf("unexpected error %v", res.Err)
	}
}

func TestRefreshRejectsUnknownAndMalformed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if res := h.service().Refresh(ctx, "not a token"); res.Failure != RefreshFailureMalformed {
		t.Fatalf("malformed: kind=%d", res.Failure)
	}
	if res := h.service().Refresh(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); res.Failure != RefreshFailureNotFound {
		t.Fatalf("unknown: kind=%d err=%v", res.Failure, res.Err)
	}
}

func TestRefreshInactiveUserBurnsFamily(t *testing.T) {
	h := newHarness(t)
	tokens := h.loginTokens()
	ctx := context.Background()

	if err := h.users.SetActive(ctx, h.user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	res := h.service().Refresh(ctx, tokens.RefreshToken)
	if res.Failure != RefreshFailureUserInactive || res.Tokens != nil {
		t.Fatalf("expected inactive failure, got %+v", res)
	}

	rows, err := h.sessions.ListFamily(ctx, tokens.FamilyID)
	if err != nil {
		t.Fatalf("list family: %v", err)
	}
	for _, r := range rows {
		if !r.IsRevoked {
			t.Fatalf("row %d left live for inactive user", r.ID)
		}
	}
}

func TestRefreshRateLimitedPerFamily(t *testing.T) {
	h := newHarness(t)
	tokens := h.loginTokens()

	var family string
	h.deps.Refresh.CheckRefreshRate = func(_ context.Context, familyID string) error {
		family = familyID
		return errThrottled
	}
	h.deps.Refresh.IsRateLimited = func(err error) bool { return errors.Is(err, errThrottled) }

	res := h.service().Refresh(context.Background(), tokens.RefreshToken)
	if res.Failure != RefreshFailureRateLimited || family != tokens.FamilyID {
		t.Fatalf("kind=%d family=%q", res.Failure, family)
	}

	h.deps.Refresh.CheckRefreshRate = nil
	if res := h.service().Refresh(context.Background(), tokens.RefreshToken); res.Failure != RefreshFailureNone {
		t.Fatalf("throttled attempt must not consume the token, got kind=%d", res.Failure)
	}
}
