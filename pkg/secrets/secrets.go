// Package secrets seals provider credentials at rest with AES-256-GCM.
//
// The encryption key is derived with HKDF-SHA256 from an operator supplied
// master key, so the master key itself is never used directly as cipher key
// material. Sealed values are base64 encoded nonce||ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize       = 32
	minMasterSize = 16
	hkdfInfo      = "subdomain-manager/credential-secret/v1"
)

var (
	ErrMasterKeyTooShort = errors.New("master key must be at least 16 bytes")
	ErrMalformed         = errors.New("sealed value is malformed")
	ErrDecrypt           = errors.New("unable to open sealed value")
)

// Box seals and opens secrets with a key derived from a master key.
type Box struct {
	aead cipher.AEAD
}

func NewBox(masterKey string) (*Box, error) {
	if len(masterKey) < minMasterSize {
		return nil, ErrMasterKeyTooShort
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Box{aead: aead}, nil
}

func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}

	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize+b.aead.Overhead() {
		return "", ErrMalformed
	}

	plaintext, err := b.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
