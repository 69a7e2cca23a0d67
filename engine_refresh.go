package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/flows"
)

// Refresh rotates a refresh token. The presented token is revoked and a
// successor in the same family is returned. Presenting an already revoked
// token revokes the whole family and returns ErrTokenTheftDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	defer e.observe(MetricRefreshLatency, time.Now())

	res := e.flow.Refresh(ctx, refreshToken)
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, AuditSessionRefreshed, res.UserID, true, nil, func() map[string]string {
			return map[string]string{"family_id": res.FamilyID}
		})
		return sessionTokensFrom(res.Tokens), nil

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, AuditTokenTheftDetected, res.UserID, false, ErrTokenTheftDetected, func() map[string]string {
			return map[string]string{
				"family_id": res.FamilyID,
				"revoked":   strconv.FormatInt(res.Revoked, 10),
			}
		})
		return nil, ErrTokenTheftDetected

	case flows.RefreshFailureExpired, flows.RefreshFailureSessionExpired:
		e.metricInc(MetricSessionExpired)
		return nil, ErrSessionExpired

	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		return nil, ErrRefreshRateLimited

	case flows.RefreshFailureMalformed, flows.RefreshFailureNotFound, flows.RefreshFailureUserInactive:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid

	default:
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: refresh: %v", ErrInternal, res.Err)
	}
}

// Logout revokes the family the refresh token belongs to. Unknown and
// malformed tokens are accepted silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.Logout(ctx, refreshToken)
}

// LogoutAll revokes every refresh-token family of userID and returns the
// number of tokens revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flow.LogoutAll(ctx, userID)
}

// ValidateAccess verifies an access token's signature and claims and that
// its user is still active.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	defer e.observe(MetricValidateLatency, time.Now())

	res := e.flow.ValidateAccess(ctx, token)
	switch res.Failure {
	case flows.ValidateFailureNone:
		return authResultFrom(res.UserID, res.Claims), nil
	case flows.ValidateFailureBackend:
		return nil, fmt.Errorf("%w: validate: %v", ErrInternal, res.Err)
	default:
		return nil, ErrUnauthorized
	}
}
