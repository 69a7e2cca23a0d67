package stores

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type BackupCodeStore struct {
	db *sqlx.DB
}

func NewBackupCodeStore(db *sqlx.DB) *BackupCodeStore {
	return &BackupCodeStore{db: db}
}

// Replace swaps the user's batch for hashes in one transaction.
func (s *BackupCodeStore) Replace(ctx context.Context, userID int64, hashes []string, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return backendErr("begin replace backup codes", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backup_codes WHERE user_id = ?`), userID); err != nil {
		return backendErr("delete backup codes", err)
	}

	insert := tx.Rebind(`INSERT INTO backup_codes (user_id, code_hash, is_used, created_at) VALUES (?, ?, FALSE, ?)`)
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, insert, userID, h, utc(now)); err != nil {
			return backendErr("insert backup code", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backendErr("commit backup codes", err)
	}
	return nil
}

// Consume marks the code with hash used. It reports false when no unused
// code matches, including when a concurrent caller consumed it first.
func (s *BackupCodeStore) Consume(ctx context.Context, userID int64, hash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE backup_codes
		SET is_used = TRUE, used_at = ?
		WHERE user_id = ? AND code_hash = ? AND is_used = FALSE`), utc(now), userID, hash)
	if err != nil {
		return false, backendErr("consume backup code", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendErr("consume backup code", err)
	}
	return n == 1, nil
}

func (s *BackupCodeStore) CountUnused(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(1) FROM backup_codes
		WHERE user_id = ? AND is_used = FALSE`), userID); err != nil {
		return 0, backendErr("count backup codes", err)
	}
	return n, nil
}
