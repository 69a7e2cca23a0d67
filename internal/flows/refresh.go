package flows

import (
	"context"
	"errors"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/refresh"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureNotFound
	RefreshFailureRateLimited
	RefreshFailureNextSecret
	RefreshFailureReuse
	RefreshFailureExpired
	RefreshFailureSessionExpired
	RefreshFailureUserInactive
	RefreshFailureIssueAccess
	RefreshFailureBackend
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	UserID   int64
	FamilyID string
	Revoked  int64
	Tokens   *SessionTokens
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now              func() time.Time
	RefreshTTL       time.Duration
	AbsoluteLifetime time.Duration
	ClockSkew        time.Duration

	ClientIPFromContext func(context.Context) string

	HashRefreshToken func(string) (string, error)
	NewRefreshToken  func() (refresh.Token, error)
	FindRefresh      func(context.Context, string) (*session.RefreshToken, error)
	Rotate           func(context.Context, session.RotateInput) (*session.RotateOutcome, error)
	RevokeFamily     func(ctx context.Context, familyID string, now time.Time) (int64, error)
	CheckRefreshRate func(ctx context.Context, familyID string) error
	IsRateLimited    func(error) bool
	GetUser          func(context.Context, int64) (*stores.User, error)
	IssueAccess      func(jwt.AccessInput) (string, time.Time, error)

	Warn func(string, ...any)
}

// RunRefresh rotates a refresh token inside the store's transaction. A
// revoked token presented again burns its whole family.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = nopWarn
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}

	presented, err := deps.HashRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: err}
	}

	if deps.CheckRefreshRate != nil && deps.FindRefresh != nil {
		if current, err := deps.FindRefresh(ctx, presented); err == nil {
			if err := deps.CheckRefreshRate(ctx, current.FamilyID); err != nil {
				if deps.IsRateLimited(err) {
					return RefreshResult{
						Failure:  RefreshFailureRateLimited,
						Err:      err,
						UserID:   current.UserID,
						FamilyID: current.FamilyID,
					}
				}
				deps.Warn("identity: refresh throttle check failed: %v", err)
			}
		}
	}

	next, err := deps.NewRefreshToken()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err}
	}

	var ip string
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	now := deps.Now().UTC()
	out, err := deps.Rotate(ctx, session.RotateInput{
		PresentedHash:    presented,
		NextHash:         next.Hash,
		Now:              now,
		RefreshTTL:       deps.RefreshTTL,
		AbsoluteLifetime: deps.AbsoluteLifetime,
		ClockSkew:        deps.ClockSkew,
		ClientIP:         ip,
	})
	if err != nil {
		res := RefreshResult{Err: err}
		if out != nil && out.Previous != nil {
			res.UserID = out.Previous.UserID
			res.FamilyID = out.Previous.FamilyID
			res.Revoked = out.Revoked
		}
		switch {
		case errors.Is(err, session.ErrTokenNotFound):
			res.Failure = RefreshFailureNotFound
		case errors.Is(err, session.ErrTokenReused):
			res.Failure = RefreshFailureReuse
		case errors.Is(err, session.ErrSessionExpired):
			res.Failure = RefreshFailureSessionExpired
		case errors.Is(err, session.ErrTokenExpired):
			res.Failure = RefreshFailureExpired
		default:
			res.Failure = RefreshFailureBackend
		}
		return res
	}

	res := RefreshResult{
		UserID:   out.Next.UserID,
		FamilyID: out.Next.FamilyID,
		Revoked:  out.Revoked,
	}

	var username string
	if deps.GetUser != nil {
		user, err := deps.GetUser(ctx, out.Next.UserID)
		if err != nil || !user.IsActive {
			if deps.RevokeFamily != nil {
				if _, revokeErr := deps.RevokeFamily(ctx, out.Next.FamilyID, now); revokeErr != nil {
					deps.Warn("identity: revoke family of inactive user failed: %v", revokeErr)
				}
			}
			if err != nil && !errors.Is(err, stores.ErrNotFound) {
				res.Failure = RefreshFailureBackend
				res.Err = err
				return res
			}
			res.Failure = RefreshFailureUserInactive
			return res
		}
		username = user.Username
	}

	access, accessExp, err := deps.IssueAccess(jwt.AccessInput{
		UserID:   out.Next.UserID,
		Username: username,
		FamilyID: out.Next.FamilyID,
	})
	if err != nil {
		res.Failure = RefreshFailureIssueAccess
		res.Err = err
		return res
	}

	res.Tokens = &SessionTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     next.Value,
		RefreshExpiresAt: out.Next.ExpiresAt,
		FamilyID:         out.Next.FamilyID,
	}
	return res
}
