package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

var newUserValidate = validator.New(validator.WithRequiredStructEnabled())

type newUserInput struct {
	Username string `validate:"required,min=3,max=64"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=1024"`
}

// PurgeExpired deletes expired MFA challenges and trusted devices, and
// refresh tokens that expired more than one absolute session lifetime ago.
// Revoked refresh hashes younger than that are kept so that replaying them
// is still recognised as reuse.
func (e *Engine) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	var out PurgeResult
	if !e.ready() {
		return out, ErrEngineNotReady
	}

	now := e.now()
	var err error

	if out.Challenges, err = e.challenges.PurgeExpired(ctx, now); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if out.TrustedDevices, err = e.devices.PurgeExpired(ctx, now); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if out.RefreshTokens, err = e.sessions.PurgeExpired(ctx, now.Add(-e.config.Session.AbsoluteLifetime)); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if total := out.Total(); total > 0 && e.metrics != nil {
		e.metrics.Add(MetricPurgedRows, uint64(total))
	}
	return out, nil
}

// CreateUser hashes nu.Password and stores a new credential record.
// Usernames and emails are unique case-insensitively.
func (e *Engine) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	in := newUserInput{
		Username: strings.TrimSpace(nu.Username),
		Email:    strings.TrimSpace(nu.Email),
		Password: nu.Password,
	}
	if err := newUserValidate.Struct(in); err != nil {
		return nil, validationErrorFrom(err)
	}

	hash, err := e.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}

	row := &stores.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsActive:     !nu.Inactive,
		MFAEnabled:   nu.MFAEnabled,
		CreatedAt:    e.now(),
	}
	if err := e.users.Create(ctx, row); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	e.metricInc(MetricUserCreated)
	e.emitAudit(ctx, AuditUserCreated, row.ID, true, nil, nil)
	return userView(row), nil
}

// GetUser returns the active or inactive user with id.
func (e *Engine) GetUser(ctx context.Context, id int64) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	row, err := e.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return userView(row), nil
}

// SetUserActive enables or disables login for id. Disabling does not revoke
// live sessions; call LogoutAll for that.
func (e *Engine) SetUserActive(ctx context.Context, id int64, active bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.users.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

func userView(u *stores.User) *User {
	return &User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		MFAEnabled:  u.MFAEnabled,
		TOTPEnabled: u.HasTOTP(),
		CreatedAt:   u.CreatedAt,
	}
}

// validationErrorFrom flattens validator field errors into a
// ValidationError keyed by lower-cased field name.
func validationErrorFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError("request", err.Error())
	}
	kv := make([]string, 0, 2*len(verrs))
	for _, fe := range verrs {
		kv = append(kv, strings.ToLower(fe.Field()), fe.Tag())
	}
	return NewValidationError(kv...)
}
