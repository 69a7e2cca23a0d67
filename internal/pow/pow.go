// Package pow issues and checks ALTCHA proof-of-work challenges: the server
// hands out an HMAC-signed SHA-256 puzzle and the client must find the
// number that, appended to the salt, hashes to the challenge. Puzzle
// construction and verification come from altcha-lib-go; this package adds
// the injectable clock and the single-use replay guard.
package pow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	altcha "github.com/altcha-org/altcha-lib-go"
	"github.com/redis/go-redis/v9"
)

var (
	ErrMalformed = errors.New("pow payload malformed")
	ErrExpired   = errors.New("pow challenge expired")
	ErrMismatch  = errors.New("pow solution mismatch")
	ErrReplayed  = errors.New("pow solution already used")
)

// Config tunes challenge difficulty and lifetime.
type Config struct {
	HMACKey   []byte
	MaxNumber int64
	Expiry    time.Duration
}

// Challenge is sent to the client widget as JSON.
type Challenge = altcha.Challenge

// Solution is the decoded client payload.
type Solution = altcha.Payload

// ReplayGuard remembers accepted challenges until they expire.
type ReplayGuard interface {
	MarkUsed(ctx context.Context, challenge string, ttl time.Duration) (bool, error)
}

// Validator issues and verifies challenges.
type Validator struct {
	cfg    Config
	key    string
	replay ReplayGuard
	now    func() time.Time
}

func New(cfg Config, replay ReplayGuard, now func() time.Time) (*Validator, error) {
	if len(cfg.HMACKey) < 16 {
		return nil, errors.New("pow: HMACKey must be at least 16 bytes")
	}
	if cfg.MaxNumber <= 0 {
		cfg.MaxNumber = 100000
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{cfg: cfg, key: string(cfg.HMACKey), replay: replay, now: now}, nil
}

// NewChallenge creates a puzzle whose salt carries its expiry.
func (v *Validator) NewChallenge() (Challenge, error) {
	expires := v.now().Add(v.cfg.Expiry)
	c, err := altcha.CreateChallenge(altcha.ChallengeOptions{
		Algorithm: altcha.SHA256,
		MaxNumber: v.cfg.MaxNumber,
		HMACKey:   v.key,
		Expires:   &expires,
	})
	if err != nil {
		return Challenge{}, fmt.Errorf("pow: create challenge: %w", err)
	}
	return c, nil
}

// Validate checks a base64 JSON payload produced by the client widget and
// spends it. Expiry is judged against the validator's clock, not the
// library's wall clock.
func (v *Validator) Validate(ctx context.Context, payload string) error {
	sol, err := decode(payload)
	if err != nil {
		return err
	}
	if err := v.checkExpiry(sol.Salt); err != nil {
		return err
	}

	ok, err := altcha.VerifySolution(sol, v.key, false)
	if err != nil {
		return ErrMalformed
	}
	if !ok {
		return ErrMismatch
	}

	if v.replay != nil {
		fresh, err := v.replay.MarkUsed(ctx, sol.Challenge, v.cfg.Expiry)
		if err != nil {
			return fmt.Errorf("pow replay guard: %w", err)
		}
		if !fresh {
			return ErrReplayed
		}
	}
	return nil
}

func decode(payload string) (Solution, error) {
	var sol Solution
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return sol, ErrMalformed
	}
	if err := json.Unmarshal(raw, &sol); err != nil {
		return sol, ErrMalformed
	}
	if sol.Algorithm != string(altcha.SHA256) || sol.Challenge == "" || sol.Salt == "" || sol.Number < 0 {
		return sol, ErrMalformed
	}
	return sol, nil
}

// checkExpiry reads the expires parameter the challenge embedded in its
// salt. A salt without one never expires.
func (v *Validator) checkExpiry(salt string) error {
	_, query, found := strings.Cut(salt, "?")
	if !found {
		return nil
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return ErrMalformed
	}
	raw := params.Get("expires")
	if raw == "" {
		return nil
	}
	expires, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrMalformed
	}
	if v.now().Unix() > expires {
		return ErrExpired
	}
	return nil
}

// RedisReplayGuard stores accepted challenges with SETNX so a solved puzzle
// can be spent once across all replicas.
type RedisReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisReplayGuard{redis: client, prefix: prefix}
}

func (g *RedisReplayGuard) MarkUsed(ctx context.Context, challenge string, ttl time.Duration) (bool, error) {
	return g.redis.SetNX(ctx, g.prefix+":pow:"+challenge, 1, ttl).Result()
}
