package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

// MFAMethod is the second factor a verification submits.
type MFAMethod string

const (
	MFAMethodTOTP       MFAMethod = "totp"
	MFAMethodEmail      MFAMethod = "email"
	MFAMethodBackupCode MFAMethod = "backup_code"
)

// ParseMFAMethod accepts the wire spellings of a method. The empty string
// parses as "" with ok=true and means "whatever the challenge was issued for".
func ParseMFAMethod(s string) (MFAMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "totp", "authenticator":
		return MFAMethodTOTP, true
	case "email", "email_code":
		return MFAMethodEmail, true
	case "backup_code", "backupcode", "backup":
		return MFAMethodBackupCode, true
	default:
		return "", false
	}
}

// AMR is the RFC 8176 authentication method reference for m.
func (m MFAMethod) AMR() string {
	switch m {
	case MFAMethodTOTP:
		return "otp"
	case MFAMethodEmail:
		return "mail"
	case MFAMethodBackupCode:
		return "kba"
	default:
		return "mfa"
	}
}

// MFATarget is what a verifier checks a submitted code against. The
// challenge attempt has already been spent when Verify runs.
type MFATarget struct {
	Challenge *stores.MFAChallenge
	User      *stores.User
	Now       time.Time
}

// MFAFailure is a verification that ran and rejected the code. Reason is
// for audit only. Locked means the attempt tracker refused to evaluate.
type MFAFailure struct {
	Reason string
	Locked bool
}

func (f *MFAFailure) Error() string {
	return "mfa verification failed: " + f.Reason
}

// MFAVerifier checks one method. Errors other than *MFAFailure are backend
// failures.
type MFAVerifier interface {
	Method() MFAMethod
	Verify(ctx context.Context, target MFATarget, code string) error
}

// AttemptTracker is the in-memory per-user-per-method failure counter.
type AttemptTracker interface {
	Check(userID int64, method string) error
	RecordFailure(userID int64, method string) (int, error)
	Reset(userID int64, method string)
}

// EmailCodeVerifier compares against the code hash stored on the challenge.
type EmailCodeVerifier struct{}

func (EmailCodeVerifier) Method() MFAMethod { return MFAMethodEmail }

func (EmailCodeVerifier) Verify(_ context.Context, target MFATarget, code string) error {
	c := target.Challenge
	if c == nil || c.Method != string(MFAMethodEmail) || c.CodeHash == "" {
		return &MFAFailure{Reason: "email_code_not_issued"}
	}
	if !internal.EqualHash(internal.HashToken(strings.TrimSpace(code)), c.CodeHash) {
		return &MFAFailure{Reason: "code_mismatch"}
	}
	return nil
}

// TOTPVerifier checks an authenticator code. No row exists per attempt, so
// failures are counted in the attempt tracker.
type TOTPVerifier struct {
	Tracker          AttemptTracker
	VerifyCode       func(secret, code string, now time.Time) (bool, int64, error)
	AdvanceCounter   func(ctx context.Context, userID, counter int64) (bool, error)
	ReplayProtection bool
}

func (TOTPVerifier) Method() MFAMethod { return MFAMethodTOTP }

func (v TOTPVerifier) Verify(ctx context.Context, target MFATarget, code string) error {
	if v.VerifyCode == nil {
		return errors.New("totp verifier not configured")
	}
	u := target.User
	if !u.HasTOTP() {
		return &MFAFailure{Reason: "totp_not_enrolled"}
	}
	if err := trackerCheck(v.Tracker, u.ID, MFAMethodTOTP); err != nil {
		return err
	}

	ok, counter, err := v.VerifyCode(u.TOTPSecret.String, code, target.Now)
	if err != nil {
		return err
	}
	if !ok {
		return trackerFail(v.Tracker, u.ID, MFAMethodTOTP, "code_mismatch")
	}

	if v.ReplayProtection && v.AdvanceCounter != nil {
		advanced, err := v.AdvanceCounter(ctx, u.ID, counter)
		if err != nil {
			return err
		}
		if !advanced {
			return trackerFail(v.Tracker, u.ID, MFAMethodTOTP, "totp_replay")
		}
	}

	if v.Tracker != nil {
		v.Tracker.Reset(u.ID, string(MFAMethodTOTP))
	}
	return nil
}

// BackupCodeVerifier consumes one unused backup code.
type BackupCodeVerifier struct {
	Tracker AttemptTracker
	Consume func(ctx context.Context, userID int64, hash string, now time.Time) (bool, error)
}

func (BackupCodeVerifier) Method() MFAMethod { return MFAMethodBackupCode }

func (v BackupCodeVerifier) Verify(ctx context.Context, target MFATarget, code string) error {
	if v.Consume == nil {
		return errors.New("backup code verifier not configured")
	}
	u := target.User
	if err := trackerCheck(v.Tracker, u.ID, MFAMethodBackupCode); err != nil {
		return err
	}

	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		return trackerFail(v.Tracker, u.ID, MFAMethodBackupCode, "code_mismatch")
	}
	ok, err := v.Consume(ctx, u.ID, BackupCodeHash(u.ID, canonical), target.Now)
	if err != nil {
		return err
	}
	if !ok {
		return trackerFail(v.Tracker, u.ID, MFAMethodBackupCode, "code_mismatch")
	}

	if v.Tracker != nil {
		v.Tracker.Reset(u.ID, string(MFAMethodBackupCode))
	}
	return nil
}

// NewVerifierSet indexes verifiers by method.
func NewVerifierSet(verifiers ...MFAVerifier) map[MFAMethod]MFAVerifier {
	set := make(map[MFAMethod]MFAVerifier, len(verifiers))
	for _, v := range verifiers {
		set[v.Method()] = v
	}
	return set
}

func trackerCheck(t AttemptTracker, userID int64, m MFAMethod) error {
	if t == nil {
		return nil
	}
	if err := t.Check(userID, string(m)); err != nil {
		return &MFAFailure{Reason: "attempts_exceeded", Locked: true}
	}
	return nil
}

func trackerFail(t AttemptTracker, userID int64, m MFAMethod, reason string) error {
	if t == nil {
		return &MFAFailure{Reason: reason}
	}
	if _, err := t.RecordFailure(userID, string(m)); err != nil {
		return &MFAFailure{Reason: reason + ",attempts_exceeded", Locked: true}
	}
	return &MFAFailure{Reason: reason}
}
