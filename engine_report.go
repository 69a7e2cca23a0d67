package identity

import (
	"strings"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/security"
)

// SecurityReport summarises which protections this engine actually
// enforces. It never includes key material.
type SecurityReport = security.Report

// SecurityReport builds the posture report for the running configuration.
func (e *Engine) SecurityReport() SecurityReport {
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:        strings.ToLower(cfg.JWT.SigningMethod),
		AccessTTL:               cfg.JWT.AccessTTL,
		RefreshTTL:              cfg.Session.RefreshTTL,
		AbsoluteSessionLifetime: cfg.Session.AbsoluteLifetime,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		UpgradeOnLogin:        cfg.Password.UpgradeOnLogin,
		LockoutThreshold:      cfg.Lockout.Threshold,
		LockoutDuration:       cfg.Lockout.Duration,
		MFAEnabled:            cfg.MFA.Enabled,
		TOTPEnabled:           cfg.TOTP.Enabled,
		TOTPReplayProtection:  cfg.TOTP.EnforceReplayProtection,
		BackupCodeCount:       cfg.BackupCodes.Count,
		TrustedDevicesEnabled: cfg.TrustedDevices.Enabled,
		PowEnabled:            e.PowEnabled(),
		RedisAvailable:        e.rateLimiter != nil,
		EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
		EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
		AuditEnabled:          cfg.Audit.Enabled && e.audit != nil,
	})
}
