// Package auth checks client credentials against a read-only credential store.
//
// Clients never send plaintext passwords: CONNECT carries the lowercase hex
// SHA-256 digest of the password. A store entry holds either that digest
// directly or a bcrypt hash of it.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnknownUser is returned by a CredentialStore for a username it does not hold.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidCredential is returned when a stored credential is malformed.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Credential is the stored secret for one user. Exactly one field is set.
type Credential struct {
	// SHA256 is the lowercase hex SHA-256 digest of the password.
	SHA256 string `yaml:"sha256,omitempty" mapstructure:"sha256" json:"sha256,omitempty"`

	// Bcrypt is a bcrypt hash of the hex digest above.
	Bcrypt string `yaml:"bcrypt,omitempty" mapstructure:"bcrypt" json:"bcrypt,omitempty"`
}

// Validate checks that exactly one secret is set and that it is well formed.
func (c Credential) Validate() error {
	switch {
	case c.SHA256 != "" && c.Bcrypt != "":
		return fmt.Errorf("%w: set either sha256 or bcrypt, not both", ErrInvalidCredential)
	case c.SHA256 != "":
		if len(c.SHA256) != sha256.Size*2 {
			return fmt.Errorf("%w: sha256 must be %d hex characters", ErrInvalidCredential, sha256.Size*2)
		}
		if _, err := hex.DecodeString(c.SHA256); err != nil {
			return fmt.Errorf("%w: sha256 is not hex", ErrInvalidCredential)
		}
	case c.Bcrypt != "":
		if _, err := bcrypt.Cost([]byte(c.Bcrypt)); err != nil {
			return fmt.Errorf("%w: bcrypt: %v", ErrInvalidCredential, err)
		}
	default:
		return fmt.Errorf("%w: no secret set", ErrInvalidCredential)
	}
	return nil
}

// matches compares a client-supplied digest against the stored secret.
// SHA-256 comparison is exact and case-sensitive.
func (c Credential) matches(passwordHash string) bool {
	if passwordHash == "" {
		return false
	}
	if c.Bcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(c.Bcrypt), []byte(passwordHash)) == nil
	}
	if c.SHA256 == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.SHA256), []byte(passwordHash)) == 1
}

// CredentialStore looks up credentials by username. Implementations must be
// safe for concurrent use; the server never mutates a store after startup.
type CredentialStore interface {
	Lookup(username string) (Credential, error)
}

// Authenticator verifies CONNECT requests.
type Authenticator struct {
	store CredentialStore
}

// New creates an Authenticator backed by store.
func New(store CredentialStore) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate reports whether passwordHash is the right digest for username.
// Unknown users and store failures are treated as a mismatch.
func (a *Authenticator) Authenticate(username, passwordHash string) bool {
	if a == nil || a.store == nil || username == "" {
		return false
	}

	cred, err := a.store.Lookup(username)
	if err != nil {
		return false
	}
	return cred.matches(passwordHash)
}

// HashPassword returns the lowercase hex SHA-256 digest of password, which is
// what clients send with CONNECT.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// BcryptDigest wraps a hex digest in bcrypt for at-rest storage.
func BcryptDigest(digest string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("invalid bcrypt cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	h, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(digest)), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}
