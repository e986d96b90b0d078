package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	require.NoError(t, err)

	ciphertext, err := store.Encrypt("super-secret-token")
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "super-secret-token")

	plaintext, err := store.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", plaintext)
}

func TestStoreNonceUniqueness(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	require.NoError(t, err)

	first, err := store.Encrypt("same-plaintext")
	require.NoError(t, err)
	second, err := store.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestStoreKeyIsolation(t *testing.T) {
	t.Parallel()

	storeA, err := NewStore()
	require.NoError(t, err)
	storeB, err := NewStore()
	require.NoError(t, err)

	ciphertext, err := storeA.Encrypt("cross-instance")
	require.NoError(t, err)

	_, err = storeB.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, errors.IsSecretDecryption(err))
}

func TestStoreDecryptCorruptInput(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext []byte
	}{
		{name: "empty", ciphertext: nil},
		{name: "too short", ciphertext: []byte{0x01, 0x02}},
		{name: "garbage", ciphertext: make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := store.Decrypt(tt.ciphertext)
			require.Error(t, err)
			assert.True(t, errors.IsSecretDecryption(err))
		})
	}
}

func TestStoreTamperDetection(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	require.NoError(t, err)

	ciphertext, err := store.Encrypt("tamper-me")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = store.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, errors.IsSecretDecryption(err))
}
