package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "8f1e0c3a5b7d9f2e4a6c8e0b2d4f6a8c1e3a5c7e9b0d2f4a6c8e0a2c4e6b8d0f"

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("runner@example.com", "user-1")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "runner")

	got, err := box.Open(sealed, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "runner@example.com", got)
}

func TestSecretBoxNonceIsFresh(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	a, err := box.Seal("same", "u")
	require.NoError(t, err)
	b, err := box.Seal("same", "u")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretBoxRejectsOtherUser(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("hunter2", "user-1")
	require.NoError(t, err)

	_, err = box.Open(sealed, "user-2")
	assert.Error(t, err)
}

func TestSecretBoxRejectsOtherKey(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)
	other, err := NewSecretBox(strings.Repeat("k", 40))
	require.NoError(t, err)

	sealed, err := box.Seal("hunter2", "u")
	require.NoError(t, err)

	_, err = other.Open(sealed, "u")
	assert.Error(t, err)
}

func TestSecretBoxErrors(t *testing.T) {
	_, err := NewSecretBox("short")
	assert.ErrorIs(t, err, ErrInvalidKey)

	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	_, err = box.Open("AAAA", "u")
	assert.ErrorIs(t, err, ErrCiphertextShort)

	_, err = box.Open("***", "u")
	assert.Error(t, err)
}
