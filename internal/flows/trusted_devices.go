package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

const maxDeviceNameLen = 100

type TrustedDeviceErrors struct {
	EngineNotReady error
	NotFound       error
	Unavailable    error
}

// TrustedDeviceDeps captures trusted-device dependencies.
type TrustedDeviceDeps struct {
	Enabled    bool
	TTL        time.Duration
	MaxPerUser int
	Now        func() time.Time

	NewDeviceToken func() (string, error)
	ListActive     func(ctx context.Context, userID int64, now time.Time) ([]stores.TrustedDevice, error)
	Create         func(ctx context.Context, d *stores.TrustedDevice, maxPerUser int) error
	Touch          func(ctx context.Context, id int64, now time.Time) error
	Delete         func(ctx context.Context, userID, id int64) error
	DeleteAll      func(ctx context.Context, userID int64) (int64, error)

	EmitAudit AuditFunc
	Warn      func(string, ...any)
	Errors    TrustedDeviceErrors
}

func normalizeTrustedDeviceDeps(deps *TrustedDeviceDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = nopAudit
	}
	if deps.Warn == nil {
		deps.Warn = nopWarn
	}
}

// RunCheckTrustedDevice reports whether token names a live device of userID
// whose fingerprint matches the current user-agent and IP. Every failure,
// including a store error, is "not trusted".
func RunCheckTrustedDevice(ctx context.Context, userID int64, token, userAgent, clientIP string, deps TrustedDeviceDeps) bool {
	normalizeTrustedDeviceDeps(&deps)
	if !deps.Enabled || token == "" || deps.ListActive == nil {
		return false
	}

	now := deps.Now().UTC()
	devices, err := deps.ListActive(ctx, userID, now)
	if err != nil {
		deps.Warn("identity: trusted device lookup failed: %v", err)
		return false
	}

	tokenHash := internal.HashToken(token)
	fingerprint := internal.DeviceFingerprint(userAgent, clientIP)

	var matched *stores.TrustedDevice
	for i := range devices {
		d := &devices[i]
		hashOK := internal.EqualHash(d.TokenHash, tokenHash)
		fpOK := internal.EqualHash(d.Fingerprint, fingerprint)
		if hashOK && fpOK && matched == nil {
			matched = d
		}
	}
	if matched == nil {
		return false
	}

	if deps.Touch != nil {
		if err := deps.Touch(ctx, matched.ID, now); err != nil {
			deps.Warn("identity: trusted device touch failed: %v", err)
		}
	}
	return true
}

// RunTrustDevice registers the current client as trusted and returns the
// bearer value to hand back. Only the hash is stored.
func RunTrustDevice(ctx context.Context, userID int64, name, userAgent, clientIP string, deps TrustedDeviceDeps) (string, error) {
	normalizeTrustedDeviceDeps(&deps)
	if !deps.Enabled {
		return "", nil
	}
	if deps.NewDeviceToken == nil || deps.Create == nil {
		return "", deps.Errors.EngineNotReady
	}

	token, err := deps.NewDeviceToken()
	if err != nil {
		return "", deps.Errors.Unavailable
	}

	now := deps.Now().UTC()
	d := &stores.TrustedDevice{
		UserID:      userID,
		TokenHash:   internal.HashToken(token),
		Fingerprint: internal.DeviceFingerprint(userAgent, clientIP),
		DeviceName:  deviceName(name, userAgent),
		ExpiresAt:   now.Add(deps.TTL),
		CreatedAt:   now,
	}
	if err := deps.Create(ctx, d, deps.MaxPerUser); err != nil {
		return "", deps.Errors.Unavailable
	}
	return token, nil
}

func RunListTrustedDevices(ctx context.Context, userID int64, deps TrustedDeviceDeps) ([]stores.TrustedDevice, error) {
	normalizeTrustedDeviceDeps(&deps)
	if deps.ListActive == nil {
		return nil, deps.Errors.EngineNotReady
	}
	devices, err := deps.ListActive(ctx, userID, deps.Now().UTC())
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	return devices, nil
}

// RunRevokeTrustedDevice deletes one device. A device owned by someone else
// is reported as not found.
func RunRevokeTrustedDevice(ctx context.Context, userID, deviceID int64, deps TrustedDeviceDeps) error {
	normalizeTrustedDeviceDeps(&deps)
	if deps.Delete == nil {
		return deps.Errors.EngineNotReady
	}
	if err := deps.Delete(ctx, userID, deviceID); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return deps.Errors.NotFound
		}
		return deps.Errors.Unavailable
	}
	deps.EmitAudit(ctx, EventTrustedDeviceRevoked, userID, true, nil, meta("device_id", strconv.FormatInt(deviceID, 10)))
	return nil
}

func RunRevokeAllTrustedDevices(ctx context.Context, userID int64, deps TrustedDeviceDeps) (int64, error) {
	normalizeTrustedDeviceDeps(&deps)
	if deps.DeleteAll == nil {
		return 0, deps.Errors.EngineNotReady
	}
	n, err := deps.DeleteAll(ctx, userID)
	if err != nil {
		return 0, deps.Errors.Unavailable
	}
	deps.EmitAudit(ctx, EventTrustedDeviceRevoked, userID, true, nil, meta("scope", "all", "count", strconv.FormatInt(n, 10)))
	return n, nil
}

func deviceName(name, userAgent string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		n = strings.TrimSpace(userAgent)
	}
	if n == "" {
		n = "Unknown device"
	}
	if r := []rune(n); len(r) > maxDeviceNameLen {
		n = string(r[:maxDeviceNameLen])
	}
	return n
}
