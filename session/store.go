package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrTokenNotFound is returned when no row carries the presented hash.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenReused is returned when a revoked token is presented again,
	// or when a concurrent rotation revoked it first. The family has been
	// revoked by the time the caller sees it.
	ErrTokenReused = errors.New("refresh token reused")

	// ErrTokenExpired is returned when the row's own expiry has passed.
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrSessionExpired is returned when the family's absolute lifetime has
	// elapsed since SessionStartedAt.
	ErrSessionExpired = errors.New("refresh session lifetime exceeded")

	// ErrBackendUnavailable wraps driver failures.
	ErrBackendUnavailable = errors.New("refresh store unavailable")
)

const tokenColumns = `id, token_hash, family_id, user_id, expires_at, session_started_at,
	is_revoked, revoked_at, revoke_reason, created_by_ip, created_at`

// Store is the SQL refresh-token store.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// RotateInput describes one refresh rotation. Now must come from the same
// UTC clock that issued the family.
type RotateInput struct {
	PresentedHash    string
	NextHash         string
	Now              time.Time
	RefreshTTL       time.Duration
	AbsoluteLifetime time.Duration
	ClockSkew        time.Duration
	ClientIP         string
}

// RotateOutcome reports what the rotation touched. Previous is set whenever
// the presented hash matched a row, including on reuse and expiry, so the
// caller can attribute the event to a user.
type RotateOutcome struct {
	Previous *RefreshToken
	Next     *RefreshToken
	Revoked  int64
}

// Insert persists the first link of a new family or any explicit row.
func (s *Store) Insert(ctx context.Context, t *RefreshToken) error {
	return insertToken(ctx, s.db, t)
}

// Rotate performs lookup, classification, revoke and successor insert in one
// transaction. Exactly one concurrent caller can revoke a given row; the
// others observe it revoked and burn the family.
func (s *Store) Rotate(ctx context.Context, in RotateInput) (*RotateOutcome, error) {
	now := in.Now.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, backendErr("begin rotate", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getByHash(ctx, tx, in.PresentedHash)
	if err != nil {
		return nil, err
	}
	out := &RotateOutcome{Previous: current}

	if current.IsRevoked {
		// A row retired by passive expiry keeps answering as expired.
		switch current.RevokeReason {
		case ReasonSessionExpired:
			return out, ErrSessionExpired
		case ReasonTokenExpired:
			return out, ErrTokenExpired
		}
		return s.burnFamily(ctx, tx, out, now)
	}

	absoluteExpired := in.AbsoluteLifetime > 0 && now.Sub(current.SessionStartedAt) > in.AbsoluteLifetime
	tokenExpired := now.After(current.ExpiresAt.Add(in.ClockSkew))
	if absoluteExpired || tokenExpired {
		reason, expiredErr := ReasonTokenExpired, ErrTokenExpired
		if absoluteExpired {
			reason, expiredErr = ReasonSessionExpired, ErrSessionExpired
		}
		n, err := revokeRow(ctx, tx, current.ID, now, reason)
		if err != nil {
			return nil, err
		}
		out.Revoked = n
		if err := tx.Commit(); err != nil {
			return nil, backendErr("commit expiry", err)
		}
		return out, expiredErr
	}

	n, err := revokeRow(ctx, tx, current.ID, now, ReasonRotated)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return s.burnFamily(ctx, tx, out, now)
	}

	expiresAt := now.Add(in.RefreshTTL)
	if in.AbsoluteLifetime > 0 {
		if deadline := current.AbsoluteDeadline(in.AbsoluteLifetime); expiresAt.After(deadline) {
			expiresAt = deadline
		}
	}

	next := &RefreshToken{
		TokenHash:        in.NextHash,
		FamilyID:         current.FamilyID,
		UserID:           current.UserID,
		ExpiresAt:        expiresAt,
		SessionStartedAt: current.SessionStartedAt,
		CreatedByIP:      in.ClientIP,
		CreatedAt:        now,
	}
	if err := insertToken(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, backendErr("commit rotate", err)
	}

	out.Next = next
	out.Revoked = 1
	return out, nil
}

func (s *Store) burnFamily(ctx context.Context, tx *sqlx.Tx, out *RotateOutcome, now time.Time) (*RotateOutcome, error) {
	n, err := revokeFamily(ctx, tx, out.Previous.FamilyID, now, ReasonReuse)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, backendErr("commit family revoke", err)
	}
	out.Revoked = n
	return out, ErrTokenReused
}

// FindByHash returns the row for hash regardless of its state.
func (s *Store) FindByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	return getByHash(ctx, s.db, hash)
}

// RevokeFamily revokes every live row of familyID and returns the count.
func (s *Store) RevokeFamily(ctx context.Context, familyID string, now time.Time) (int64, error) {
	return revokeFamily(ctx, s.db, familyID, now.UTC(), ReasonFamilyRevoked)
}

// RevokeByHash revokes the family that hash belongs to. The matched row is
// returned so callers can attribute the logout.
func (s *Store) RevokeByHash(ctx context.Context, hash string, now time.Time) (*RefreshToken, int64, error) {
	t, err := getByHash(ctx, s.db, hash)
	if err != nil {
		return nil, 0, err
	}
	n, err := revokeFamily(ctx, s.db, t.FamilyID, now.UTC(), ReasonLogout)
	if err != nil {
		return t, 0, err
	}
	return t, n, nil
}

// RevokeAllForUser revokes every live row of every family owned by userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = ?, revoke_reason = ?
		WHERE user_id = ? AND is_revoked = FALSE`), now.UTC(), ReasonLogoutAll, userID)
	if err != nil {
		return 0, backendErr("revoke user tokens", err)
	}
	return rowsAffected(res, "revoke user tokens")
}

// ListFamily returns every row of a family, oldest first.
func (s *Store) ListFamily(ctx context.Context, familyID string) ([]RefreshToken, error) {
	rows := []RefreshToken{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+tokenColumns+`
		FROM refresh_tokens WHERE family_id = ? ORDER BY id`), familyID); err != nil {
		return nil, backendErr("list family", err)
	}
	return rows, nil
}

// PurgeExpired deletes rows whose expiry is before cutoff. Callers should
// pass a cutoff at least one absolute lifetime in the past so revoked hashes
// stay available for reuse detection while their family could still be live.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM refresh_tokens WHERE expires_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, backendErr("purge refresh tokens", err)
	}
	return rowsAffected(res, "purge refresh tokens")
}

func insertToken(ctx context.Context, q sqlx.ExtContext, t *RefreshToken) error {
	if t == nil {
		return errors.New("nil refresh token")
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.SessionStartedAt = t.SessionStartedAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()

	err := q.QueryRowxContext(ctx, q.Rebind(`INSERT INTO refresh_tokens
		(token_hash, family_id, user_id, expires_at, session_started_at, is_revoked, created_by_ip, created_at)
		VALUES (?, ?, ?, ?, ?, FALSE, ?, ?)
		RETURNING id`),
		t.TokenHash, t.FamilyID, t.UserID, t.ExpiresAt, t.SessionStartedAt, t.CreatedByIP, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return backendErr("insert refresh token", err)
	}
	return nil
}

func getByHash(ctx context.Context, q sqlx.ExtContext, hash string) (*RefreshToken, error) {
	if hash == "" {
		return nil, ErrTokenNotFound
	}
	var t RefreshToken
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(`SELECT `+tokenColumns+`
		FROM refresh_tokens WHERE token_hash = ?`), hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, backendErr("lookup refresh token", err)
	}
	return &t, nil
}

func revokeRow(ctx context.Context, e sqlx.ExtContext, id int64, now time.Time, reason string) (int64, error) {
	res, err := e.ExecContext(ctx, e.Rebind(`UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND is_revoked = FALSE`), now, reason, id)
	if err != nil {
		return 0, backendErr("revoke refresh token", err)
	}
	return rowsAffected(res, "revoke refresh token")
}

func revokeFamily(ctx context.Context, e sqlx.ExtContext, familyID string, now time.Time, reason string) (int64, error) {
	res, err := e.ExecContext(ctx, e.Rebind(`UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = ?, revoke_reason = ?
		WHERE family_id = ? AND is_revoked = FALSE`), now, reason, familyID)
	if err != nil {
		return 0, backendErr("revoke family", err)
	}
	return rowsAffected(res, "revoke family")
}

func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr(op, err)
	}
	return n, nil
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}
