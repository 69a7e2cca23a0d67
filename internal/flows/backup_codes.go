package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeMetrics struct {
	BackupCodeRegenerated int
}

type BackupCodeErrors struct {
	EngineNotReady        error
	UserNotFound          error
	BackupCodeUnavailable error
}

type BackupCodeDeps struct {
	BackupCodeCount  int
	BackupCodeLength int
	Now              func() time.Time

	GetUser            func(context.Context, int64) (*stores.User, error)
	ReplaceBackupCodes func(ctx context.Context, userID int64, hashes []string, now time.Time) error
	CountUnused        func(context.Context, int64) (int, error)

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics BackupCodeMetrics
	Errors  BackupCodeErrors
}

// RunGenerateBackupCodes replaces the user's batch and returns the new codes
// in display form. The previous batch stops verifying immediately.
func RunGenerateBackupCodes(ctx context.Context, userID int64, deps BackupCodeDeps) ([]string, error) {
	normalizeBackupCodeDeps(&deps)
	if deps.GetUser == nil || deps.ReplaceBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, deps.Errors.UserNotFound
		}
		return nil, deps.Errors.BackupCodeUnavailable
	}

	count := deps.BackupCodeCount
	length := deps.BackupCodeLength
	if count <= 0 || length <= 0 {
		return nil, deps.Errors.BackupCodeUnavailable
	}

	hashes := make([]string, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, deps.RandomIndex)
		if err != nil {
			return nil, deps.Errors.BackupCodeUnavailable
		}
		hashes = append(hashes, BackupCodeHash(user.ID, CanonicalizeBackupCode(raw)))
		codes = append(codes, FormatBackupCode(raw))
	}

	if err := deps.ReplaceBackupCodes(ctx, user.ID, hashes, deps.Now().UTC()); err != nil {
		return nil, deps.Errors.BackupCodeUnavailable
	}

	deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
	deps.EmitAudit(ctx, EventBackupCodesGenerated, user.ID, true, nil, meta("count", strconv.Itoa(count)))
	return codes, nil
}

// RunBackupCodeCount returns how many unused codes the user has left.
func RunBackupCodeCount(ctx context.Context, userID int64, deps BackupCodeDeps) (int, error) {
	if deps.CountUnused == nil {
		return 0, deps.Errors.EngineNotReady
	}
	n, err := deps.CountUnused(ctx, userID)
	if err != nil {
		return 0, deps.Errors.BackupCodeUnavailable
	}
	return n, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits codes of 8+ characters with a dash for display.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode strips display separators and folds case.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds a canonical code to its owner so equal codes of
// different users never share a stored hash.
func BackupCodeHash(userID int64, canonicalCode string) string {
	id := strconv.FormatInt(userID, 10)
	data := make([]byte, 0, len(id)+1+len(canonicalCode))
	data = append(data, id...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = nopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = nopAudit
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
