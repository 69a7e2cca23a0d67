package password

import (
	"errors"
	"strings"
)

// ErrUnknownFormat is returned for stored hashes no verifier recognises.
var ErrUnknownFormat = errors.New("unknown password hash format")

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Chain hashes with Primary and verifies with whichever verifier matches
// the stored prefix.
type Chain struct {
	Primary *Argon2
	Legacy  *Bcrypt
}

func NewChain(primary *Argon2) *Chain {
	return &Chain{Primary: primary, Legacy: &Bcrypt{}}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.Primary.Hash(password)
}

func (c *Chain) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return c.Primary.Verify(password, encodedHash)
	case c.Legacy != nil && c.Legacy.Recognizes(encodedHash):
		return c.Legacy.Verify(password, encodedHash)
	default:
		return false, ErrUnknownFormat
	}
}

func (c *Chain) NeedsUpgrade(encodedHash string) (bool, error) {
	if strings.HasPrefix(encodedHash, argon2Prefix) {
		return c.Primary.NeedsUpgrade(encodedHash)
	}
	if c.Legacy != nil && c.Legacy.Recognizes(encodedHash) {
		return true, nil
	}
	return false, ErrUnknownFormat
}
