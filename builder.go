package identity

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	internalaudit "github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/audit"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/limiters"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/pow"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/rate"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/mailqueue"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/password"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

// dummyPassword is hashed once at Build so that logins for unknown users
// spend the same verification time as real ones.
const dummyPassword = "identity-dummy-password-for-timing"

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	db     *sqlx.DB
	redis  redis.UniversalClient

	mailQueue    EmailQueue
	auditSink    AuditSink
	powValidator PowValidator
	logger       func(string, ...any)
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDB supplies the migrated database every store runs on. Required.
func (b *Builder) WithDB(db *sqlx.DB) *Builder {
	b.db = db
	return b
}

// WithRedis enables the login/refresh throttles, the PoW replay guard and,
// unless WithEmailQueue is used, the Redis mail outbox.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithEmailQueue(q EmailQueue) *Builder {
	b.mailQueue = q
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPowValidator replaces the built-in proof-of-work validator.
func (b *Builder) WithPowValidator(v PowValidator) *Builder {
	b.powValidator = v
	return b
}

// WithLogger sets the warn hook used for non-fatal failures (queue errors,
// throttle backend errors). Defaults to log.Printf.
func (b *Builder) WithLogger(logf func(string, ...any)) *Builder {
	b.logger = logf
	return b
}

// WithClock sets the engine's single time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every store, limiter and flow.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, errors.New("database required")
	}
	if cfg.Pow.Enabled && b.powValidator == nil && b.redis == nil {
		return nil, errors.New("Pow requires redis client or a custom validator")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	clock := func() time.Time { return now().UTC() }

	warn := b.logger
	if warn == nil {
		warn = log.Printf
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		now:         clock,
		warn:        warn,
		db:          b.db,
		users:       stores.NewUserStore(b.db),
		challenges:  stores.NewMFAChallengeStore(b.db),
		backupCodes: stores.NewBackupCodeStore(b.db),
		devices:     stores.NewTrustedDeviceStore(b.db),
		sessions:    session.NewStore(b.db),
		mailQueue:   b.mailQueue,
	}

	// -------- LIMITERS --------
	engine.tracker = limiters.NewMFAAttemptTracker(limiters.MFAAttemptConfig{
		MaxFailures: cfg.MFA.TrackerFailures,
		Window:      cfg.MFA.TrackerWindow,
		Capacity:    cfg.MFA.TrackerSize,
	}).WithClock(clock)

	if b.redis != nil {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.RateLimit.RedisPrefix,
			EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
			EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:           cfg.RateLimit.LoginWindow,
			MaxRefreshAttempts:    cfg.RateLimit.MaxRefreshAttempts,
			RefreshWindow:         cfg.RateLimit.RefreshWindow,
		})
		if engine.mailQueue == nil {
			engine.mailQueue = mailqueue.NewRedisQueue(b.redis, "")
		}
	}

	// -------- POW --------
	if cfg.Pow.Enabled {
		engine.powValidator = b.powValidator
		if engine.powValidator == nil {
			v, err := pow.New(pow.Config{
				HMACKey:   cloneBytes(cfg.Pow.HMACKey),
				MaxNumber: cfg.Pow.MaxNumber,
				Expiry:    cfg.Pow.Expiry,
			}, pow.NewRedisReplayGuard(b.redis, cfg.Pow.RedisPrefix), clock)
			if err != nil {
				return nil, err
			}
			engine.pow = v
			engine.powValidator = v
		}
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Warn:       warn,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	// -------- PASSWORDS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = password.NewChain(ph)
	engine.dummyHash, err = ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- JWT --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.flow = engine.buildFlows()
	b.built = true

	return engine, nil
}
