package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateUser(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Username: " bob ", Email: "bob@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 || u.Username != "bob" || !u.IsActive || u.MFAEnabled {
		t.Fatalf("unexpected user %+v", u)
	}

	tests := []struct {
		name    string
		in      NewUser
		wantErr error
		field   string
	}{
		{name: "duplicate username", in: NewUser{Username: "BOB", Email: "other@example.com", Password: testPassword}, wantErr: ErrUserExists},
		{name: "duplicate email", in: NewUser{Username: "bobby", Email: "Bob@Example.com", Password: testPassword}, wantErr: ErrUserExists},
		{name: "short username", in: NewUser{Username: "b", Email: "b@example.com", Password: testPassword}, wantErr: ErrValidation, field: "username"},
		{name: "bad email", in: NewUser{Username: "carol", Email: "carol", Password: testPassword}, wantErr: ErrValidation, field: "email"},
		{name: "short password", in: NewUser{Username: "carol", Email: "carol@example.com", Password: "short"}, wantErr: ErrValidation, field: "password"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := te.CreateUser(ctx, tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.field == "" {
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields[tc.field] == "" {
				t.Fatalf("expected a %s field error, got %v", tc.field, err)
			}
		})
	}

	if got := te.MetricsSnapshot().Counters[MetricUserCreated]; got != 1 {
		t.Fatalf("user created counter = %d", got)
	}
}

func TestGetUserAndSetActive(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	u := te.createUser(t, "alice", false)

	if err := te.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	view, err := te.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.IsActive {
		t.Fatal("user should be inactive")
	}
	if _, err := te.GetUser(ctx, 4242); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	if err := te.SetUserActive(ctx, 4242, true); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestBackupCodesCompleteLogin(t *testing.T) {
	te := newTestEngine(t, withConfig(func(c *Config) {
		c.BackupCodes.Count = 4
	}))
	u := te.createUser(t, "alice", true)
	ctx := context.Background()

	codes, err := te.GenerateBackupCodes(ctx, u.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(codes) != 4 || !strings.Contains(codes[0], "-") {
		t.Fatalf("unexpected codes %v", codes)
	}
	if n, err := te.BackupCodeCount(ctx, u.ID); err != nil || n != 4 {
		t.Fatalf("count=%d err=%v", n, err)
	}

	res := te.login(t, ctx, "alice")
	var offered bool
	for _, m := range res.AvailableMethods {
		if m == MFAMethodBackupCode {
			offered = true
		}
	}
	if !offered {
		t.Fatalf("backup codes should be offered, got %v", res.AvailableMethods)
	}

	code := strings.ToLower(strings.ReplaceAll(codes[1], "-", ""))
	out, err := te.VerifyMFA(ctx, VerifyMFARequest{ChallengeToken: res.ChallengeToken, Code: code, Method: MFAMethodBackupCode})
	if err != nil {
		t.Fatalf("verify backup code: %v", err)
	}
	if out.Method != MFAMethodBackupCode {
		t.Fatalf("unexpected method %q", out.Method)
	}
	if n, _ := te.BackupCodeCount(ctx, u.ID); n != 3 {
		t.Fatalf("code must be consumed, count=%d", n)
	}

	res = te.login(t, ctx, "alice")
	if _, err := te.VerifyMFA(ctx, VerifyMFARequest{ChallengeToken: res.ChallengeToken, Code: codes[1], Method: MFAMethodBackupCode}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("used code must fail, got %v", err)
	}

	fresh, err := te.GenerateBackupCodes(ctx, u.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if n, _ := te.BackupCodeCount(ctx, u.ID); n != len(fresh) {
		t.Fatalf("regeneration must replace the batch, count=%d", n)
	}
	if te.MetricsSnapshot().Counters[MetricBackupCodeUsed] != 1 {
		t.Fatal("backup code use not counted")
	}
}

func TestGenerateBackupCodesUnknownUser(t *testing.T) {
	te := newTestEngine(t)
	if _, err := te.GenerateBackupCodes(context.Background(), 77); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func trustDevice(t *testing.T, te *testEngine, ctx context.Context, username string) string {
	t.Helper()
	res := te.login(t, ctx, username)
	out, err := te.VerifyMFA(ctx, VerifyMFARequest{
		ChallengeToken: res.ChallengeToken,
		Code:           te.mail.lastCode(t),
		TrustDevice:    true,
		DeviceName:     "work laptop",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.TrustedDeviceToken == "" {
		t.Fatal("expected a device token")
	}
	return out.TrustedDeviceToken
}

func TestTrustedDeviceManagement(t *testing.T) {
	te := newTestEngine(t)
	alice := te.createUser(t, "alice", true)
	bob := te.createUser(t, "bob", true)
	ctx := WithUserAgent(context.Background(), "Mozilla/5.0 Firefox/120.0")

	trustDevice(t, te, ctx, "alice")
	trustDevice(t, te, ctx, "alice")
	trustDevice(t, te, ctx, "bob")

	devices, err := te.ListTrustedDevices(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "work laptop" {
		t.Fatalf("unexpected name %q", devices[0].Name)
	}

	bobDevices, err := te.ListTrustedDevices(ctx, bob.ID)
	if err != nil || len(bobDevices) != 1 {
		t.Fatalf("bob devices=%d err=%v", len(bobDevices), err)
	}
	if err := te.RevokeTrustedDevice(ctx, alice.ID, bobDevices[0].ID); !errors.Is(err, ErrTrustedDeviceNotFound) {
		t.Fatalf("revoking another user's device: %v", err)
	}

	if err := te.RevokeTrustedDevice(ctx, alice.ID, devices[0].ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	n, err := te.RevokeAllTrustedDevices(ctx, alice.ID)
	if err != nil || n != 1 {
		t.Fatalf("revoke all n=%d err=%v", n, err)
	}
	if left, _ := te.ListTrustedDevices(ctx, alice.ID); len(left) != 0 {
		t.Fatalf("expected no devices left, got %d", len(left))
	}
	if te.MetricsSnapshot().Counters[MetricTrustedDeviceRevoked] != 2 {
		t.Fatalf("revoked counter = %d", te.MetricsSnapshot().Counters[MetricTrustedDeviceRevoked])
	}
}

func TestPurgeExpiredRemovesOnlyExpiredRows(t *testing.T) {
	te := newTestEngine(t, withConfig(func(c *Config) {
		c.TrustedDevices.TTL = 24 * time.Hour
	}))
	te.createUser(t, "alice", true)
	ctx := WithUserAgent(context.Background(), "Mozilla/5.0 Firefox/120.0")

	trustDevice(t, te, ctx, "alice")
	pending := te.login(t, ctx, "alice")

	res, err := te.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.Total() != 0 {
		t.Fatalf("nothing should be purged yet, got %+v", res)
	}

	te.clock.Advance(10 * time.Minute)
	res, err = te.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.Challenges != 2 || res.TrustedDevices != 0 || res.RefreshTokens != 0 {
		t.Fatalf("expected only the two challenges, got %+v", res)
	}
	if _, err := te.VerifyMFA(ctx, VerifyMFARequest{ChallengeToken: pending.ChallengeToken, Code: "123456"}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("purged challenge: %v", err)
	}

	te.clock.Advance(2 * 24 * time.Hour)
	res, err = te.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.TrustedDevices != 1 || res.RefreshTokens != 0 {
		t.Fatalf("expected only the device, got %+v", res)
	}

	cfg := te.Config()
	te.clock.Advance(cfg.Session.RefreshTTL + cfg.Session.AbsoluteLifetime)
	res, err = te.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.RefreshTokens != 1 {
		t.Fatalf("expected the stale refresh token, got %+v", res)
	}
	if te.MetricsSnapshot().Counters[MetricPurgedRows] != 4 {
		t.Fatalf("purged rows counter = %d", te.MetricsSnapshot().Counters[MetricPurgedRows])
	}
}
