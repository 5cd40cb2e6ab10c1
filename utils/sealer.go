package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrSealedTooShort is returned when a sealed blob cannot hold a nonce.
var ErrSealedTooShort = errors.New("ciphertext too short")

// Sealer encrypts JSON values with AES-256-GCM.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a 32 byte key. A nil key generates a random
// one, so blobs sealed by one process cannot be opened by another.
func NewSealer(key []byte) (*Sealer, error) {
	if key == nil {
		key = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal marshals v to JSON and encrypts it. The nonce is prepended.
func (s *Sealer) Seal(v interface{}) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal into v.
func (s *Sealer) Open(sealed []byte, v interface{}) error {
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return ErrSealedTooShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}
