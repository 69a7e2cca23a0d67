package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const secretSize = 32

// ErrMalformed is returned for values that cannot be a refresh token.
var ErrMalformed = errors.New("malformed refresh token")

// Token is a freshly minted bearer value and its storage hash.
type Token struct {
	Value string
	Hash  string
}

// New mints a random refresh token.
func New() (Token, error) {
	var secret [secretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return Token{}, err
	}
	return Token{
		Value: base64.RawURLEncoding.EncodeToString(secret[:]),
		Hash:  hashSecret(secret[:]),
	}, nil
}

// Hash validates value's shape and returns its storage hash.
func Hash(value string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) != secretSize {
		return "", ErrMalformed
	}
	return hashSecret(raw), nil
}

func hashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
