package identity

import (
	"context"
)

// GenerateBackupCodes replaces userID's recovery codes with a fresh batch
// and returns them in display form. This is the only time the plaintext
// codes are available; the previous batch stops working immediately.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if _, err := e.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.flow.GenerateBackupCodes(ctx, userID)
}

// BackupCodeCount returns how many unused recovery codes userID has.
func (e *Engine) BackupCodeCount(ctx context.Context, userID int64) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.flow.BackupCodeCount(ctx, userID)
}
