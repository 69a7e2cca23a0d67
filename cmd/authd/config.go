package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
)

// settings is the service configuration. Keys are dotted viper paths and
// map to AUTHD_* environment variables with dots replaced by underscores.
type settings struct {
	Listen          string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TrustProxy      bool
	IPPerMinute     int
	IPBurst         int
	PurgeInterval   time.Duration

	DBDriver string
	DBDSN    string
	DBPool   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MailQueueKey  string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	AuditFile     string

	Engine identity.Config
}

func setDefaults(v *viper.Viper) {
	def := identity.DefaultConfig()

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.ip_requests_per_minute", 60)
	v.SetDefault("http.ip_burst", 10)
	v.SetDefault("purge.interval", time.Hour)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:authd.db")
	v.SetDefault("db.max_open_conns", 20)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mail.queue_key", "auth:mail:outbox")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("audit.file", "")

	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.issuer", "authd")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.secret", "")

	v.SetDefault("session.refresh_ttl", def.Session.RefreshTTL)
	v.SetDefault("session.absolute_lifetime", def.Session.AbsoluteLifetime)
	v.SetDefault("session.clock_skew", def.Session.ClockSkew)

	v.SetDefault("lockout.threshold", def.Lockout.Threshold)
	v.SetDefault("lockout.duration", def.Lockout.Duration)

	v.SetDefault("mfa.enabled", def.MFA.Enabled)
	v.SetDefault("mfa.challenge_ttl", def.MFA.ChallengeTTL)
	v.SetDefault("mfa.max_attempts", def.MFA.MaxAttempts)

	v.SetDefault("totp.enabled", def.TOTP.Enabled)
	v.SetDefault("totp.issuer", "authd")

	v.SetDefault("trusted_devices.enabled", def.TrustedDevices.Enabled)
	v.SetDefault("trusted_devices.ttl", def.TrustedDevices.TTL)
	v.SetDefault("trusted_devices.max_per_user", def.TrustedDevices.MaxPerUser)

	v.SetDefault("pow.enabled", false)
	v.SetDefault("pow.hmac_key", "")

	v.SetDefault("rate_limit.ip_throttle", def.RateLimit.EnableIPThrottle)
	v.SetDefault("rate_limit.refresh_throttle", def.RateLimit.EnableRefreshThrottle)
	v.SetDefault("rate_limit.max_login_attempts", def.RateLimit.MaxLoginAttempts)
	v.SetDefault("rate_limit.login_window", def.RateLimit.LoginWindow)
}

// loadSettings reads .env (if present), then the optional YAML file, then
// AUTHD_* environment variables.
func loadSettings(configFile string) (*settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AUTHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("authd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/authd/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return settingsFrom(v)
}

func settingsFrom(v *viper.Viper) (*settings, error) {
	s := &settings{
		Listen:          v.GetString("http.listen"),
		ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		AllowedOrigins:  v.GetStringSlice("http.allowed_origins"),
		TrustProxy:      v.GetBool("http.trust_proxy"),
		IPPerMinute:     v.GetInt("http.ip_requests_per_minute"),
		IPBurst:         v.GetInt("http.ip_burst"),
		PurgeInterval:   v.GetDuration("purge.interval"),

		DBDriver: v.GetString("db.driver"),
		DBDSN:    v.GetString("db.dsn"),
		DBPool:   v.GetInt("db.max_open_conns"),

		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),
		MailQueueKey:  v.GetString("mail.queue_key"),

		LogLevel:      v.GetString("log.level"),
		LogFile:       v.GetString("log.file"),
		LogMaxSizeMB:  v.GetInt("log.max_size_mb"),
		LogMaxBackups: v.GetInt("log.max_backups"),
		LogMaxAgeDays: v.GetInt("log.max_age_days"),
		AuditFile:     v.GetString("audit.file"),
	}

	cfg := identity.DefaultConfig()
	cfg.JWT.SigningMethod = v.GetString("jwt.signing_method")
	cfg.JWT.AccessTTL = v.GetDuration("jwt.access_ttl")
	cfg.JWT.Issuer = v.GetString("jwt.issuer")
	cfg.JWT.Audience = v.GetString("jwt.audience")
	cfg.JWT.KeyID = v.GetString("jwt.key_id")

	switch strings.ToLower(cfg.JWT.SigningMethod) {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(v.GetString("jwt.secret"))
	default:
		priv, err := readKeyFile(v.GetString("jwt.private_key_file"))
		if err != nil {
			return nil, fmt.Errorf("jwt private key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		if path := v.GetString("jwt.public_key_file"); path != "" {
			pub, err := readKeyFile(path)
			if err != nil {
				return nil, fmt.Errorf("jwt public key: %w", err)
			}
			cfg.JWT.PublicKey = pub
		}
	}

	cfg.Session.RefreshTTL = v.GetDuration("session.refresh_ttl")
	cfg.Session.AbsoluteLifetime = v.GetDuration("session.absolute_lifetime")
	cfg.Session.ClockSkew = v.GetDuration("session.clock_skew")

	cfg.Lockout.Threshold = v.GetInt("lockout.threshold")
	cfg.Lockout.Duration = v.GetDuration("lockout.duration")

	cfg.MFA.Enabled = v.GetBool("mfa.enabled")
	cfg.MFA.ChallengeTTL = v.GetDuration("mfa.challenge_ttl")
	cfg.MFA.MaxAttempts = v.GetInt("mfa.max_attempts")

	cfg.TOTP.Enabled = v.GetBool("totp.enabled")
	cfg.TOTP.Issuer = v.GetString("totp.issuer")

	cfg.TrustedDevices.Enabled = v.GetBool("trusted_devices.enabled")
	cfg.TrustedDevices.TTL = v.GetDuration("trusted_devices.ttl")
	cfg.TrustedDevices.MaxPerUser = v.GetInt("trusted_devices.max_per_user")

	cfg.Pow.Enabled = v.GetBool("pow.enabled")
	if key := v.GetString("pow.hmac_key"); key != "" {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("pow.hmac_key must be base64: %w", err)
		}
		cfg.Pow.HMACKey = raw
	}

	cfg.RateLimit.EnableIPThrottle = v.GetBool("rate_limit.ip_throttle")
	cfg.RateLimit.EnableRefreshThrottle = v.GetBool("rate_limit.refresh_throttle")
	cfg.RateLimit.MaxLoginAttempts = v.GetInt("rate_limit.max_login_attempts")
	cfg.RateLimit.LoginWindow = v.GetDuration("rate_limit.login_window")

	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	s.Engine = cfg
	return s, nil
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
