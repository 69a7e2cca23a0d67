package flows

import (
	"context"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.FindUser != nil && s.deps.Validate.ParseAccess != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) (*LoginOutcome, error) {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) StartChallenge(ctx context.Context, user *stores.User, decision MFADecision) (*ChallengeStart, error) {
	return RunStartChallenge(ctx, user, decision, s.deps.MFA)
}

func (s Service) ResendEmailChallenge(ctx context.Context, challengeToken string) error {
	return RunResendEmailChallenge(ctx, challengeToken, s.deps.MFA)
}

func (s Service) VerifyMFA(ctx context.Context, in VerifyMFAInput) (*MFAOutcome, error) {
	return RunVerifyMFA(ctx, in, s.deps.MFA)
}

func (s Service) IssueSession(ctx context.Context, in IssueSessionInput) (*SessionTokens, error) {
	return RunIssueSession(ctx, in, s.deps.Session)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string) error {
	return RunLogout(ctx, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	return RunLogoutAll(ctx, userID, s.deps.Logout)
}

func (s Service) ValidateAccess(ctx context.Context, tokenStr string) ValidateResult {
	return RunValidateAccess(ctx, tokenStr, s.deps.Validate)
}

func (s Service) GenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	return RunGenerateBackupCodes(ctx, userID, s.deps.BackupCode)
}

func (s Service) BackupCodeCount(ctx context.Context, userID int64) (int, error) {
	return RunBackupCodeCount(ctx, userID, s.deps.BackupCode)
}

func (s Service) CheckTrustedDevice(ctx context.Context, userID int64, token, userAgent, clientIP string) bool {
	return RunCheckTrustedDevice(ctx, userID, token, userAgent, clientIP, s.deps.TrustedDevice)
}

func (s Service) TrustDevice(ctx context.Context, userID int64, name, userAgent, clientIP string) (string, error) {
	return RunTrustDevice(ctx, userID, name, userAgent, clientIP, s.deps.TrustedDevice)
}

func (s Service) ListTrustedDevices(ctx context.Context, userID int64) ([]stores.TrustedDevice, error) {
	return RunListTrustedDevices(ctx, userID, s.deps.TrustedDevice)
}

func (s Service) RevokeTrustedDevice(ctx context.Context, userID, deviceID int64) error {
	return RunRevokeTrustedDevice(ctx, userID, deviceID, s.deps.TrustedDevice)
}

func (s Service) RevokeAllTrustedDevices(ctx context.Context, userID int64) (int64, error) {
	return RunRevokeAllTrustedDevices(ctx, userID, s.deps.TrustedDevice)
}
