package service

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore hashes and verifies principal passwords.
type CredentialStore struct {
	cost  int
	dummy []byte
}

// NewCredentialStore builds a store using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewCredentialStore(cost int) *CredentialStore {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("clinical-iam-unknown-principal"), cost)
	return &CredentialStore{cost: cost, dummy: dummy}
}

// Hash returns the bcrypt hash of password.
func (c *CredentialStore) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. An empty hash stands for an
// unknown principal; a comparison still runs so timing does not reveal it.
func (c *CredentialStore) Verify(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(c.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
