package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCredentialStoreHashAndVerify(t *testing.T) {
	store := NewCredentialStore(bcrypt.MinCost)

	hash, err := store.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.True(t, store.Verify(hash, "correct horse"))
	assert.False(t, store.Verify(hash, "battery staple"))
	assert.False(t, store.Verify("", "correct horse"))
	assert.False(t, store.Verify("not-a-hash", "correct horse"))

	_, err = store.Hash("")
	assert.Error(t, err)
}

func TestCredentialStoreFallsBackToDefaultCost(t *testing.T) {
	store := NewCredentialStore(99)
	assert.Equal(t, bcrypt.DefaultCost, store.cost)
}
