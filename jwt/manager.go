package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config holds signing keys and validation policy.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// AccessClaims is the access-token payload.
type AccessClaims struct {
	Username string   `json:"usr,omitempty"`
	SID      string   `json:"sid"`
	AMR      []string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// AccessInput describes the session an access token is minted for.
type AccessInput struct {
	UserID   int64
	Username string
	FamilyID string
	AMR      []string
}

// Manager signs and parses access tokens.
type Manager struct {
	config Config
	method jwt.SigningMethod
	sign   any
	verify func(kid string) (any, error)
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.initHMAC()
	case MethodEd25519:
		err = m.initEd25519()
	default:
		return nil, errors.New("unsupported signing method")
	}
	if err != nil {
		return nil, err
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return m, nil
}

func (j *Manager) initHMAC() error {
	if len(j.config.PrivateKey) < 32 {
		return errors.New("hs256 requires a key of at least 32 bytes")
	}
	j.method = jwt.SigningMethodHS256
	j.sign = j.config.PrivateKey
	j.verify = func(kid string) (any, error) {
		if len(j.config.VerifyKeys) > 0 {
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return key, nil
		}
		return j.config.PrivateKey, nil
	}
	return nil
}

func (j *Manager) initEd25519() error {
	j.method = jwt.SigningMethodEdDSA

	if len(j.config.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(j.config.PrivateKey)
		if err != nil {
			return err
		}
		j.sign = priv
	}

	var pub ed25519.PublicKey
	if len(j.config.PublicKey) > 0 {
		p, err := parseEdPublicKey(j.config.PublicKey)
		if err != nil {
			return err
		}
		pub = p
	}

	ring := make(map[string]ed25519.PublicKey, len(j.config.VerifyKeys))
	for kid, raw := range j.config.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("verify key map contains empty kid")
		}
		k, err := parseEdPublicKey(raw)
		if err != nil {
			return fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
		}
		ring[kid] = k
	}
	if pub == nil && len(ring) == 0 {
		return errors.New("ed25519 requires public key or verify key set")
	}

	j.verify = func(kid string) (any, error) {
		if len(ring) > 0 {
			k, ok := ring[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return k, nil
		}
		return pub, nil
	}
	return nil
}

// TTL is the configured access-token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.AccessTTL
}

// CreateAccess signs an access token and returns it with its expiry.
func (j *Manager) CreateAccess(in AccessInput) (string, time.Time, error) {
	if j.sign == nil {
		return "", time.Time{}, errors.New("manager has no signing key")
	}

	now := j.config.Now().UTC()
	expiresAt := now.Add(j.config.AccessTTL)
	claims := AccessClaims{
		Username: in.Username,
		SID:      in.FamilyID,
		AMR:      in.AMR,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(in.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signed, err := token.SignedString(j.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, algorithm, time claims, issuer and
// audience.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if len(j.config.VerifyKeys) > 0 || j.config.KeyID != "" {
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if len(j.config.VerifyKeys) == 0 && kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.verify(kid)
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, errors.New("token subject is not a user id")
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
