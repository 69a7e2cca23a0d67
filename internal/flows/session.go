package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/refresh"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

// SessionTokens is an issued access/refresh pair.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
}

// IssueSessionInput identifies who the new family belongs to.
type IssueSessionInput struct {
	UserID   int64
	Username string
	AMR      []string
	ClientIP string
}

type SessionErrors struct {
	EngineNotReady  error
	SessionCreation error
}

// SessionDeps captures session issuance dependencies.
type SessionDeps struct {
	Now              func() time.Time
	RefreshTTL       time.Duration
	AbsoluteLifetime time.Duration

	NewRefreshToken func() (refresh.Token, error)
	NewFamilyID     func() string
	InsertRefresh   func(context.Context, *session.RefreshToken) error
	IssueAccess     func(jwt.AccessInput) (string, time.Time, error)

	MetricInc            func(int)
	MetricSessionCreated int
	Errors               SessionErrors
}

// RunIssueSession starts a new rotation family and mints the first pair.
// The family's SessionStartedAt is fixed here and never advances.
func RunIssueSession(ctx context.Context, in IssueSessionInput, deps SessionDeps) (*SessionTokens, error) {
	if deps.NewRefreshToken == nil || deps.NewFamilyID == nil || deps.InsertRefresh == nil || deps.IssueAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = nopMetric
	}

	now := deps.Now().UTC()
	tok, err := deps.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.SessionCreation, err)
	}

	expiresAt := now.Add(deps.RefreshTTL)
	if deps.AbsoluteLifetime > 0 && deps.AbsoluteLifetime < deps.RefreshTTL {
		expiresAt = now.Add(deps.AbsoluteLifetime)
	}

	row := &session.RefreshToken{
		TokenHash:        tok.Hash,
		FamilyID:         deps.NewFamilyID(),
		UserID:           in.UserID,
		ExpiresAt:        expiresAt,
		SessionStartedAt: now,
		CreatedByIP:      in.ClientIP,
		CreatedAt:        now,
	}
	if err := deps.InsertRefresh(ctx, row); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.SessionCreation, err)
	}

	access, accessExp, err := deps.IssueAccess(jwt.AccessInput{
		UserID:   in.UserID,
		Username: in.Username,
		FamilyID: row.FamilyID,
		AMR:      in.AMR,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.SessionCreation, err)
	}

	deps.MetricInc(deps.MetricSessionCreated)
	return &SessionTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     tok.Value,
		RefreshExpiresAt: row.ExpiresAt,
		FamilyID:         row.FamilyID,
	}, nil
}
