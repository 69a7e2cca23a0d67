package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrChallengeDead means the challenge is missing, expired, used, or out
	// of attempts. Callers must not distinguish these cases to the client.
	ErrChallengeDead = errors.New("mfa challenge is no longer valid")
)

// MFAChallenge is a persisted proof that the password step already passed.
type MFAChallenge struct {
	ID        int64     `db:"id"`
	Token     string    `db:"token"`
	UserID    int64     `db:"user_id"`
	Method    string    `db:"method"`
	CodeHash  string    `db:"code_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	Attempts  int       `db:"attempts"`
	IsUsed    bool      `db:"is_used"`
	ClientIP  string    `db:"client_ip"`
	CreatedAt time.Time `db:"created_at"`
}

// Live reports whether the challenge can still accept an attempt.
func (c *MFAChallenge) Live(now time.Time, maxAttempts int) bool {
	return c != nil && !c.IsUsed && c.ExpiresAt.After(now) && c.Attempts < maxAttempts
}

const challengeColumns = `id, token, user_id, method, code_hash, expires_at, attempts, is_used, client_ip, created_at`

type MFAChallengeStore struct {
	db *sqlx.DB
}

func NewMFAChallengeStore(db *sqlx.DB) *MFAChallengeStore {
	return &MFAChallengeStore{db: db}
}

func (s *MFAChallengeStore) Create(ctx context.Context, c *MFAChallenge) error {
	if c == nil {
		return errors.New("nil challenge")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO mfa_challenges
		(token, user_id, method, code_hash, expires_at, attempts, is_used, client_ip, created_at)
		VALUES (?, ?, ?, ?, ?, 0, FALSE, ?, ?)
		RETURNING id`),
		c.Token, c.UserID, c.Method, c.CodeHash, utc(c.ExpiresAt), c.ClientIP, utc(c.CreatedAt),
	).Scan(&c.ID)
	if err != nil {
		return backendErr("create challenge", err)
	}
	return nil
}

func (s *MFAChallengeStore) Get(ctx context.Context, token string) (*MFAChallenge, error) {
	var c MFAChallenge
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`SELECT `+challengeColumns+`
		FROM mfa_challenges WHERE token = ?`), token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get challenge", err)
	}
	return &c, nil
}

// RegisterAttempt atomically spends one attempt of the challenge budget and
// returns the row as it stands after the increment. A challenge that is
// used, expired or already at maxAttempts yields ErrChallengeDead and is not
// modified.
func (s *MFAChallengeStore) RegisterAttempt(
	ctx context.Context,
	token string,
	maxAttempts int,
	now time.Time,
) (*MFAChallenge, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE mfa_challenges
		SET attempts = attempts + 1
		WHERE token = ? AND is_used = FALSE AND expires_at > ? AND attempts < ?`),
		token, utc(now), maxAttempts)
	if err != nil {
		return nil, backendErr("register attempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, backendErr("register attempt", err)
	}
	if n == 0 {
		return nil, ErrChallengeDead
	}

	c, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrChallengeDead
		}
		return nil, err
	}
	return c, nil
}

// MarkUsed flips the used flag once; a second call reports false.
func (s *MFAChallengeStore) MarkUsed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE mfa_challenges
		SET is_used = TRUE
		WHERE id = ? AND is_used = FALSE`), id)
	if err != nil {
		return false, backendErr("mark challenge used", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendErr("mark challenge used", err)
	}
	return n == 1, nil
}

// Reissue switches a live challenge to method with a fresh code hash and
// expiry. Spent attempts are kept.
func (s *MFAChallengeStore) Reissue(
	ctx context.Context,
	token, method, codeHash string,
	expiresAt, now time.Time,
) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE mfa_challenges
		SET method = ?, code_hash = ?, expires_at = ?
		WHERE token = ? AND is_used = FALSE AND expires_at > ?`),
		method, codeHash, utc(expiresAt), token, utc(now))
	if err != nil {
		return backendErr("reissue challenge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr("reissue challenge", err)
	}
	if n == 0 {
		return ErrChallengeDead
	}
	return nil
}

// PurgeExpired deletes challenges that expired before cutoff.
func (s *MFAChallengeStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM mfa_challenges WHERE expires_at < ?`), utc(cutoff))
	if err != nil {
		return 0, backendErr("purge challenges", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr("purge challenges", err)
	}
	return n, nil
}
