// Package secrets protects client secrets and cached access tokens in
// process memory. Each Store owns a random AES-256-GCM key generated at
// construction; the key never leaves the process and is never persisted,
// so ciphertext from one instance cannot be decrypted by another.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

const keySize = 32

// Store encrypts and decrypts short secrets with an instance-local key.
// Encrypt and Decrypt are safe for concurrent use; the key is immutable
// after construction.
type Store struct {
	aead cipher.AEAD
}

// NewStore generates a fresh key and returns a ready Store.
// A failure here means the process has no usable entropy source and is
// fatal at startup.
func NewStore() (*Store, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Store{aead: aead}, nil
}

// Encrypt seals the plaintext under the instance key. A random nonce is
// prepended to the ciphertext, so encrypting the same plaintext twice
// yields different outputs.
func (s *Store) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a ciphertext produced by this instance's Encrypt.
// Ciphertext from another instance, or corrupted data, fails with a
// SecretDecryptionError.
func (s *Store) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return "", errors.NewSecretDecryptionError("ciphertext shorter than nonce", nil)
	}

	nonce, sealed := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.NewSecretDecryptionError("failed to decrypt ciphertext", err)
	}

	return string(plaintext), nil
}
