package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// TrustedDevice is a device token bound to a user-agent+IP fingerprint.
type TrustedDevice struct {
	ID          int64        `db:"id"`
	UserID      int64        `db:"user_id"`
	TokenHash   string       `db:"token_hash"`
	Fingerprint string       `db:"fingerprint"`
	DeviceName  string       `db:"device_name"`
	ExpiresAt   time.Time    `db:"expires_at"`
	LastUsedAt  sql.NullTime `db:"last_used_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

const deviceColumns = `id, user_id, token_hash, fingerprint, device_name, expires_at, last_used_at, created_at`

type TrustedDeviceStore struct {
	db *sqlx.DB
}

func NewTrustedDeviceStore(db *sqlx.DB) *TrustedDeviceStore {
	return &TrustedDeviceStore{db: db}
}

// Create inserts d and, when maxPerUser > 0, evicts the user's oldest
// devices beyond that limit.
func (s *TrustedDeviceStore) Create(ctx context.Context, d *TrustedDevice, maxPerUser int) error {
	if d == nil {
		return errors.New("nil trusted device")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return backendErr("begin create device", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO trusted_devices
		(user_id, token_hash, fingerprint, device_name, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		d.UserID, d.TokenHash, d.Fingerprint, d.DeviceName, utc(d.ExpiresAt), utc(d.CreatedAt),
	).Scan(&d.ID)
	if err != nil {
		return backendErr("create device", err)
	}

	if maxPerUser > 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM trusted_devices
			WHERE user_id = ? AND id NOT IN (
				SELECT id FROM trusted_devices WHERE user_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)`), d.UserID, d.UserID, maxPerUser); err != nil {
			return backendErr("trim devices", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backendErr("commit device", err)
	}
	return nil
}

// ListActive returns the user's devices that have not expired at now,
// newest first.
func (s *TrustedDeviceStore) ListActive(ctx context.Context, userID int64, now time.Time) ([]TrustedDevice, error) {
	devices := []TrustedDevice{}
	if err := s.db.SelectContext(ctx, &devices, s.db.Rebind(`SELECT `+deviceColumns+`
		FROM trusted_devices
		WHERE user_id = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC`), userID, utc(now)); err != nil {
		return nil, backendErr("list devices", err)
	}
	return devices, nil
}

func (s *TrustedDeviceStore) Touch(ctx context.Context, id int64, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE trusted_devices SET last_used_at = ? WHERE id = ?`),
		utc(now), id); err != nil {
		return backendErr("touch device", err)
	}
	return nil
}

// Delete removes one device owned by userID.
func (s *TrustedDeviceStore) Delete(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trusted_devices WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return backendErr("delete device", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr("delete device", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TrustedDeviceStore) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trusted_devices WHERE user_id = ?`), userID)
	if err != nil {
		return 0, backendErr("delete user devices", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr("delete user devices", err)
	}
	return n, nil
}

func (s *TrustedDeviceStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trusted_devices WHERE expires_at < ?`), utc(cutoff))
	if err != nil {
		return 0, backendErr("purge devices", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr("purge devices", err)
	}
	return n, nil
}
