// Package vault encrypts remote-system credentials at rest.
// Uses AES-256-GCM with a key derived from the configured secret via HKDF-SHA256.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when a value cannot be decrypted.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrEmptySecret is returned when the vault is built without a secret.
	ErrEmptySecret = errors.New("vault secret is empty")
)

const (
	keyInfo      = "feedboard/integration-credentials/v1"
	segmentCount = 3
	tagSize      = 16
)

// Vault encrypts and decrypts API keys.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a secret string.
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Encrypt returns "nonce:tag:ciphertext", each segment hex encoded.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(body),
	}, ":"), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != segmentCount {
		return "", ErrInvalidCiphertext
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidCiphertext
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := v.aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// LooksEncrypted reports whether value has the shape Encrypt produces.
// It inspects the string only and proves nothing about who encrypted it.
func (v *Vault) LooksEncrypted(value string) bool {
	parts := strings.Split(value, ":")
	if len(parts) != segmentCount {
		return false
	}
	for i, part := range parts {
		// The body segment is empty for an empty plaintext.
		if part == "" && i != segmentCount-1 {
			return false
		}
		if _, err := hex.DecodeString(part); err != nil {
			return false
		}
	}
	return true
}
