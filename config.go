package identity

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the engine.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	Lockout        LockoutConfig
	MFA            MFAConfig
	TOTP           TOTPConfig
	BackupCodes    BackupCodeConfig
	TrustedDevices TrustedDeviceConfig
	Pow            PowConfig
	RateLimit      RateLimitConfig
	Password       PasswordConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh-token families.
//
// RefreshTTL is the lifetime of each individual refresh token.
// AbsoluteLifetime caps the whole family from its first login and is never
// extended by rotation. ClockSkew is tolerated on per-token expiry only.
type SessionConfig struct {
	RefreshTTL       time.Duration
	AbsoluteLifetime time.Duration
	ClockSkew        time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the persisted failed-login counter.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls login challenges and the in-memory attempt tracker.
type MFAConfig struct {
	Enabled         bool
	ChallengeTTL    time.Duration
	MaxAttempts     int
	CodeDigits      int
	TrackerFailures int
	TrackerWindow   time.Duration
	TrackerSize     int
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator-app codes.
type TOTPConfig struct {
	Enabled                 bool
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig controls recovery code batches.
type BackupCodeConfig struct {
	Count  int
	Length int
}

/*
====================================
TRUSTED DEVICE CONFIG
====================================
*/

// TrustedDeviceConfig controls the "remember this device" bypass.
type TrustedDeviceConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxPerUser int
}

/*
====================================
POW CONFIG
====================================
*/

// PowConfig controls the proof-of-work gate on login.
type PowConfig struct {
	Enabled     bool
	HMACKey     []byte
	MaxNumber   int64
	Expiry      time.Duration
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the Redis fixed-window throttles. They are only
// active when a Redis client is supplied to the builder.
type RateLimitConfig struct {
	RedisPrefix           string
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RefreshTTL:       14 * 24 * time.Hour,
			AbsoluteLifetime: 30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		MFA: MFAConfig{
			Enabled:         true,
			ChallengeTTL:    5 * time.Minute,
			MaxAttempts:     5,
			CodeDigits:      6,
			TrackerFailures: 5,
			TrackerWindow:   15 * time.Minute,
			TrackerSize:     10000,
		},
		TOTP: TOTPConfig{
			Enabled:                 true,
			Issuer:                  "identity",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
		},
		BackupCodes: BackupCodeConfig{
			Count:  10,
			Length: 8,
		},
		TrustedDevices: TrustedDeviceConfig{
			Enabled:    true,
			TTL:        30 * 24 * time.Hour,
			MaxPerUser: 5,
		},
		Pow: PowConfig{
			Enabled:     false,
			MaxNumber:   100000,
			Expiry:      5 * time.Minute,
			RedisPrefix: "pow",
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:           "auth",
			EnableIPThrottle:      true,
			EnableRefreshThrottle: true,
			MaxLoginAttempts:      20,
			LoginWindow:           15 * time.Minute,
			MaxRefreshAttempts:    20,
			RefreshWindow:         time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns a validated baseline configuration. Signing keys
// and the PoW HMAC key are still the caller's to supply.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Pow.HMACKey = cloneBytes(cfg.Pow.HMACKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("JWT PrivateKey required for ed25519")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT PrivateKey must be >= 32 bytes for hs256")
		}
	default:
		return errors.New("JWT SigningMethod must be ed25519 or hs256")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("Session AbsoluteLifetime must be > 0")
	}
	if c.Session.RefreshTTL > c.Session.AbsoluteLifetime {
		return errors.New("Session RefreshTTL must be <= AbsoluteLifetime")
	}
	if c.Session.ClockSkew < 0 || c.Session.ClockSkew > 5*time.Minute {
		return errors.New("Session ClockSkew must be between 0 and 5m")
	}
	if c.JWT.AccessTTL > c.Session.RefreshTTL {
		return errors.New("JWT AccessTTL must be <= Session RefreshTTL")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > 30*time.Minute {
		return errors.New("MFA ChallengeTTL must be between 1ns and 30m")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}
	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 8 {
		return errors.New("MFA CodeDigits must be between 6 and 8")
	}
	if c.MFA.TrackerFailures <= 0 || c.MFA.TrackerWindow <= 0 {
		return errors.New("MFA tracker failures and window must be > 0")
	}

	// TOTP
	if c.TOTP.Enabled {
		if strings.TrimSpace(c.TOTP.Issuer) == "" {
			return errors.New("TOTP Issuer must be set when TOTP is enabled")
		}
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 20 {
		return errors.New("BackupCodes Count must be between 1 and 20")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length%2 != 0 {
		return errors.New("BackupCodes Length must be an even number >= 8")
	}

	// Trusted devices
	if c.TrustedDevices.Enabled {
		if c.TrustedDevices.TTL <= 0 {
			return errors.New("TrustedDevices TTL must be > 0")
		}
		if c.TrustedDevices.MaxPerUser < 0 {
			return errors.New("TrustedDevices MaxPerUser must be >= 0")
		}
	}

	// PoW
	if c.Pow.Enabled && len(c.Pow.HMACKey) < 16 {
		return errors.New("Pow HMACKey must be >= 16 bytes when Pow is enabled")
	}

	// Rate limits
	if c.RateLimit.MaxLoginAttempts < 0 || c.RateLimit.MaxRefreshAttempts < 0 {
		return errors.New("RateLimit attempts must be >= 0")
	}
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginWindow <= 0 {
		return errors.New("RateLimit LoginWindow must be > 0")
	}
	if c.RateLimit.MaxRefreshAttempts > 0 && c.RateLimit.RefreshWindow <= 0 {
		return errors.New("RateLimit RefreshWindow must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
