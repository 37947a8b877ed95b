package password

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupportedHash is returned for stored hashes in no recognised format.
	ErrUnsupportedHash = errors.New("password: unsupported hash format")
	// ErrTooShort is returned when hashing a password below the minimum length.
	ErrTooShort = errors.New("password: must be at least 8 bytes")
)

// Verifier checks a plaintext secret against a stored hash of either supported
// format and hashes new secrets with Argon2id.
type Verifier struct {
	argon  *Argon2
	bcrypt *Bcrypt
}

// NewVerifier builds a Verifier from Argon2 parameters and a bcrypt cost.
func NewVerifier(argonCfg Argon2Config, bcryptCost int) (*Verifier, error) {
	a, err := NewArgon2(argonCfg)
	if err != nil {
		return nil, err
	}
	b, err := NewBcrypt(bcryptCost)
	if err != nil {
		return nil, err
	}
	return &Verifier{argon: a, bcrypt: b}, nil
}

// Hash produces an Argon2id PHC string.
func (v *Verifier) Hash(password string) (string, error) {
	return v.argon.Hash(password)
}

// Verify dispatches on the hash prefix.
func (v *Verifier) Verify(password string, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return v.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		return v.bcrypt.Verify(password, encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports true for every bcrypt hash and for Argon2id hashes with
// weaker parameters than the configured ones.
func (v *Verifier) NeedsUpgrade(encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return v.argon.NeedsUpgrade(encodedHash)
	case isBcrypt(encodedHash):
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}
