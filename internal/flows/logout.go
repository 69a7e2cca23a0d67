package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

type LogoutMetrics struct {
	Logout    int
	LogoutAll int
}

type LogoutErrors struct {
	EngineNotReady error
	Internal       error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Now              func() time.Time
	HashRefreshToken func(string) (string, error)
	RevokeByHash     func(ctx context.Context, hash string, now time.Time) (*session.RefreshToken, int64, error)
	RevokeAllForUser func(ctx context.Context, userID int64, now time.Time) (int64, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LogoutMetrics
	Errors  LogoutErrors
}

func normalizeLogoutDeps(deps *LogoutDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = nopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = nopAudit
	}
}

// RunLogout revokes the family the token belongs to. Unknown or malformed
// tokens are a no-op so logout never leaks token validity.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) error {
	normalizeLogoutDeps(&deps)
	if deps.HashRefreshToken == nil || deps.RevokeByHash == nil {
		return deps.Errors.EngineNotReady
	}

	hash, err := deps.HashRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	row, n, err := deps.RevokeByHash(ctx, hash, deps.Now().UTC())
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, EventLogout, row.UserID, true, nil, meta(
		"family_id", row.FamilyID,
		"revoked", strconv.FormatInt(n, 10),
	))
	return nil
}

// RunLogoutAll revokes every family of userID.
func RunLogoutAll(ctx context.Context, userID int64, deps LogoutDeps) (int64, error) {
	normalizeLogoutDeps(&deps)
	if deps.RevokeAllForUser == nil {
		return 0, deps.Errors.EngineNotReady
	}

	n, err := deps.RevokeAllForUser(ctx, userID, deps.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	deps.MetricInc(deps.Metrics.LogoutAll)
	deps.EmitAudit(ctx, EventLogout, userID, true, nil, meta(
		"scope", "all",
		"revoked", strconv.FormatInt(n, 10),
	))
	return n, nil
}
