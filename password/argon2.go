package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
	argon2Prefix          = "$argon2id$"
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 is the primary hasher.
type Argon2 struct {
	config Config
}

type encodedArgon2 struct {
	params Config
	salt   []byte
	key    []byte
}

func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a PHC string from the raw password bytes. No Unicode
// normalization is applied.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", fmt.Errorf("password must be at least %d bytes", minPassBytes)
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters embedded in encodedHash.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	enc, err := decodeArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), enc.salt, enc.params.Time, enc.params.Memory, enc.params.Parallelism, enc.params.KeyLength)
	return subtle.ConstantTimeCompare(key, enc.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker or
// different parameters than the configured ones.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	enc, err := decodeArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	p := enc.params
	return a.config.Memory > p.Memory ||
		a.config.Time > p.Time ||
		a.config.Parallelism > p.Parallelism ||
		a.config.KeyLength != p.KeyLength, nil
}

func decodeArgon2(encodedHash string) (*encodedArgon2, error) {
	if !strings.HasPrefix(encodedHash, argon2Prefix) {
		return nil, ErrUnknownFormat
	}
	parts := strings.Split(strings.TrimPrefix(encodedHash, argon2Prefix), "$")
	if len(parts) != 4 {
		return nil, errors.New("invalid PHC format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var (
		memory, timeCost uint32
		parallelism      uint8
	)
	if n, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil || n != 3 {
		return nil, errors.New("invalid argon2 parameters")
	}
	if memory < minMemoryKB || timeCost < minTimeCost || parallelism < minParallelism {
		return nil, errors.New("argon2 parameters below minimum")
	}

	salt, err := decodeB64(parts[2])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	key, err := decodeB64(parts[3])
	if err != nil || len(key) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &encodedArgon2{
		params: Config{
			Memory:      memory,
			Time:        timeCost,
			Parallelism: parallelism,
			SaltLength:  uint32(len(salt)),
			KeyLength:   uint32(len(key)),
		},
		salt: salt,
		key:  key,
	}, nil
}

// decodeB64 accepts both padded and unpadded standard base64, since PHC
// strings from other libraries differ on padding.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
