package stores

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// User is the persisted credential record.
type User struct {
	ID               int64          `db:"id"`
	Username         string         `db:"username"`
	Email            string         `db:"email"`
	PasswordHash     string         `db:"password_hash"`
	IsActive         bool           `db:"is_active"`
	FailedLoginCount int            `db:"failed_login_count"`
	LockoutUntil     sql.NullTime   `db:"lockout_until"`
	MFAEnabled       bool           `db:"mfa_enabled"`
	TOTPSecret       sql.NullString `db:"totp_secret"`
	TOTPLastCounter  int64          `db:"totp_last_counter"`
	CreatedAt        time.Time      `db:"created_at"`
}

// LockedAt reports whether the lockout window is still open at now.
func (u *User) LockedAt(now time.Time) bool {
	return u != nil && u.LockoutUntil.Valid && u.LockoutUntil.Time.After(now)
}

// HasTOTP reports whether a TOTP secret has been confirmed for the user.
func (u *User) HasTOTP() bool {
	return u != nil && u.TOTPSecret.Valid && u.TOTPSecret.String != ""
}

const userColumns = `id, username, email, password_hash, is_active, failed_login_count,
	lockout_until, mfa_enabled, totp_secret, totp_last_counter, created_at`

// UserStore is the credential store.
type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// FindByLogin resolves a username or email in a single query.
func (s *UserStore) FindByLogin(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	var u User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users
		WHERE lower(username) = lower(?) OR lower(email) = lower(?)
		LIMIT 1`), identifier, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr("find user", err)
	}
	return &u, nil
}

func (s *UserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr("find user by id", err)
	}
	return &u, nil
}

// Create inserts u and fills in its id.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	if u == nil {
		return errors.New("nil user")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = utc(u.CreatedAt)
	if u.TOTPLastCounter == 0 {
		u.TOTPLastCounter = -1
	}

	if existing, err := s.FindByLogin(ctx, u.Username); err == nil && existing != nil {
		return ErrConflict
	}
	if existing, err := s.FindByLogin(ctx, u.Email); err == nil && existing != nil {
		return ErrConflict
	}

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO users
		(username, email, password_hash, is_active, failed_login_count, mfa_enabled,
		 totp_secret, totp_last_counter, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		RETURNING id`),
		u.Username, u.Email, u.PasswordHash, u.IsActive, u.MFAEnabled,
		u.TOTPSecret, u.TOTPLastCounter, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return backendErr("create user", err)
	}
	return nil
}

// RecordFailedLogin increments the failure counter. Once the counter reaches
// threshold the account is locked until now+lockFor and the counter restarts,
// so a user coming out of lockout gets a full budget again.
func (s *UserStore) RecordFailedLogin(
	ctx context.Context,
	id int64,
	threshold int,
	lockFor time.Duration,
	now time.Time,
) (int, *time.Time, error) {
	var count int
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`UPDATE users
		SET failed_login_count = failed_login_count + 1
		WHERE id = ?
		RETURNING failed_login_count`), id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, backendErr("record failed login", err)
	}

	if threshold <= 0 || count < threshold {
		return count, nil, nil
	}

	until := utc(now.Add(lockFor))
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users
		SET lockout_until = ?, failed_login_count = 0
		WHERE id = ?`), until, id); err != nil {
		return count, nil, backendErr("lock user", err)
	}
	return count, &until, nil
}

// ResetFailedLogins clears the counter and any expired lockout.
func (s *UserStore) ResetFailedLogins(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users
		SET failed_login_count = 0, lockout_until = NULL
		WHERE id = ?`), id); err != nil {
		return backendErr("reset failed logins", err)
	}
	return nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.execOne(ctx, "update password hash",
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

// SetTOTPSecret stores (or clears, when secret is empty) the TOTP secret and
// resets the replay counter. Enabling TOTP also enables MFA.
func (s *UserStore) SetTOTPSecret(ctx context.Context, id int64, secret string) error {
	if secret == "" {
		return s.execOne(ctx, "clear totp secret",
			`UPDATE users SET totp_secret = NULL, totp_last_counter = -1 WHERE id = ?`, id)
	}
	return s.execOne(ctx, "set totp secret",
		`UPDATE users SET totp_secret = ?, totp_last_counter = -1, mfa_enabled = TRUE WHERE id = ?`, secret, id)
}

func (s *UserStore) SetMFAEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.execOne(ctx, "set mfa enabled",
		`UPDATE users SET mfa_enabled = ? WHERE id = ?`, enabled, id)
}

func (s *UserStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "set active",
		`UPDATE users SET is_active = ? WHERE id = ?`, active, id)
}

// AdvanceTOTPCounter records counter as the last accepted TOTP step. It
// returns false when an equal or later step was already accepted.
func (s *UserStore) AdvanceTOTPCounter(ctx context.Context, id int64, counter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users
		SET totp_last_counter = ?
		WHERE id = ? AND totp_last_counter < ?`), counter, id, counter)
	if err != nil {
		return false, backendErr("advance totp counter", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendErr("advance totp counter", err)
	}
	return n == 1, nil
}

// Delete removes the user; child rows cascade.
func (s *UserStore) Delete(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete user", `DELETE FROM users WHERE id = ?`, id)
}

func (s *UserStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return backendErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
