package sealer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	s, err := New("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("hunter2"), []byte("entry-1"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(sealed), &env))
	assert.Equal(t, envelopeVersion, env.Version)

	plain, err := s.Open(sealed, []byte("entry-1"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, err := New("secret")
	require.NoError(t, err)
	a, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenFailures(t *testing.T) {
	s, err := New("secret")
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("hunter2"), []byte("entry-1"))
	require.NoError(t, err)

	rotated, err := New("another secret")
	require.NoError(t, err)
	_, err = rotated.Open(sealed, []byte("entry-1"))
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = s.Open(sealed, []byte("entry-2"))
	assert.ErrorIs(t, err, ErrDecryption)

	for _, corrupt := range []string{"", "not json", `{"version":2,"nonce":"","ciphertext":""}`, `{"version":1,"nonce":"AAAA","ciphertext":"AAAA"}`} {
		_, err = s.Open(corrupt, nil)
		assert.ErrorIs(t, err, ErrDecryption, corrupt)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
