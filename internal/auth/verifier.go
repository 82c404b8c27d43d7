package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoCredentials is returned when no login secret has been configured.
var ErrNoCredentials = errors.New("no login credentials configured")

// Verifier decides whether a credential pair is valid.
type Verifier interface {
	Verify(identifier, secret string) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(identifier, secret string) bool

func (f VerifierFunc) Verify(identifier, secret string) bool { return f(identifier, secret) }

// BcryptVerifier accepts one identifier whose secret is stored as a bcrypt
// hash.
type BcryptVerifier struct {
	identifier string
	hash       []byte
}

// NewBcryptVerifier returns ErrNoCredentials when hash is empty so the
// daemon can refuse logins instead of accepting any secret.
func NewBcryptVerifier(identifier, hash string) (*BcryptVerifier, error) {
	if hash == "" {
		return nil, ErrNoCredentials
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("parsing login secret hash: %w", err)
	}
	return &BcryptVerifier{identifier: identifier, hash: []byte(hash)}, nil
}

func (v *BcryptVerifier) Verify(identifier, secret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(identifier), []byte(v.identifier)) == 1
	// Always run bcrypt so a wrong identifier costs the same as a wrong
	// secret.
	secretOK := bcrypt.CompareHashAndPassword(v.hash, []byte(secret)) == nil
	return idOK && secretOK
}

// HashSecret returns the bcrypt hash stored for a login secret.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hashing login secret: %w", err)
	}
	return string(h), nil
}
