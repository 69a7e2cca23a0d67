package security

import "time"

type PasswordReport struct {
	Memory      uint32 `json:"memory_kib"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"salt_length"`
	KeyLength   uint32 `json:"key_length"`
}

// Report is the posture summary. Booleans describe what is in force, not
// what is configured: a throttle without Redis is reported inactive.
type Report struct {
	SigningAlgorithm        string         `json:"signing_algorithm"`
	AccessTTL               time.Duration  `json:"access_ttl"`
	RefreshTTL              time.Duration  `json:"refresh_ttl"`
	AbsoluteSessionLifetime time.Duration  `json:"absolute_session_lifetime"`
	Argon2                  PasswordReport `json:"argon2"`
	LegacyHashUpgrade       bool           `json:"legacy_hash_upgrade"`
	LockoutThreshold        int            `json:"lockout_threshold"`
	LockoutDuration         time.Duration  `json:"lockout_duration"`
	MFAEnabled              bool           `json:"mfa_enabled"`
	TOTPEnabled             bool           `json:"totp_enabled"`
	TOTPReplayProtection    bool           `json:"totp_replay_protection"`
	BackupCodesEnabled      bool           `json:"backup_codes_enabled"`
	TrustedDevicesEnabled   bool           `json:"trusted_devices_enabled"`
	ProofOfWorkActive       bool           `json:"proof_of_work_active"`
	LoginThrottleActive     bool           `json:"login_throttle_active"`
	RefreshThrottleActive   bool           `json:"refresh_throttle_active"`
	RefreshReuseDetection   bool           `json:"refresh_reuse_detection"`
	AuditActive             bool           `json:"audit_active"`
	Warnings                []string       `json:"warnings,omitempty"`
}

type ReportInput struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	AbsoluteSessionLifetime time.Duration
	Password                PasswordReport
	UpgradeOnLogin          bool
	LockoutThreshold        int
	LockoutDuration         time.Duration
	MFAEnabled              bool
	TOTPEnabled             bool
	TOTPReplayProtection    bool
	BackupCodeCount         int
	TrustedDevicesEnabled   bool
	PowEnabled              bool
	RedisAvailable          bool
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	AuditEnabled            bool
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:        input.SigningAlgorithm,
		AccessTTL:               input.AccessTTL,
		RefreshTTL:              input.RefreshTTL,
		AbsoluteSessionLifetime: input.AbsoluteSessionLifetime,
		Argon2:                  input.Password,
		LegacyHashUpgrade:       input.UpgradeOnLogin,
		LockoutThreshold:        input.LockoutThreshold,
		LockoutDuration:         input.LockoutDuration,
		MFAEnabled:              input.MFAEnabled,
		TOTPEnabled:             input.TOTPEnabled,
		TOTPReplayProtection:    input.TOTPEnabled && input.TOTPReplayProtection,
		BackupCodesEnabled:      input.MFAEnabled && input.BackupCodeCount > 0,
		TrustedDevicesEnabled:   input.MFAEnabled && input.TrustedDevicesEnabled,
		ProofOfWorkActive:       input.PowEnabled,
		LoginThrottleActive:     input.RedisAvailable && input.EnableIPThrottle,
		RefreshThrottleActive:   input.RedisAvailable && input.EnableRefreshThrottle,
		RefreshReuseDetection:   true,
		AuditActive:             input.AuditEnabled,
	}

	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "hs256 shares the signing secret with every verifier")
	}
	if !input.RedisAvailable && (input.EnableIPThrottle || input.EnableRefreshThrottle) {
		r.Warnings = append(r.Warnings, "throttles are configured but no redis client was supplied")
	}
	if input.TOTPEnabled && !input.TOTPReplayProtection {
		r.Warnings = append(r.Warnings, "totp codes may be replayed within their window")
	}
	if input.AccessTTL > 30*time.Minute {
		r.Warnings = append(r.Warnings, "access tokens outlive 30m and cannot be revoked early")
	}
	return r
}
