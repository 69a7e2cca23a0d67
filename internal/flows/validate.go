package flows

import (
	"context"
	"errors"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureUserInactive
	ValidateFailureBackend
)

// ValidateResult returns either claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	UserID  int64
}

// ValidateDeps captures access-token validation dependencies. CheckUser is
// optional; without it validation is signature and claims only.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.AccessClaims, error)
	CheckUser   bool
	GetUser     func(context.Context, int64) (*stores.User, error)
}

// RunValidateAccess verifies an access token for transport middleware.
func RunValidateAccess(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	if deps.ParseAccess == nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized}
	}
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}
	userID, err := claims.UserID()
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}

	if deps.CheckUser && deps.GetUser != nil {
		user, err := deps.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				return ValidateResult{Failure: ValidateFailureUserInactive, Err: err}
			}
			return ValidateResult{Failure: ValidateFailureBackend, Err: err}
		}
		if !user.IsActive {
			return ValidateResult{Failure: ValidateFailureUserInactive}
		}
	}

	return ValidateResult{Claims: claims, UserID: userID}
}
