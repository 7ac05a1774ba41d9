package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const encryptedPrefix = "enc:v1:"

// Sealer encrypts secrets stored at rest (per-user API keys) with
// AES-256-GCM. A nil *Sealer stores values as plaintext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the key from masterSecret with SHA-256. An empty
// secret yields a nil Sealer.
func NewSealer(masterSecret string) (*Sealer, error) {
	if masterSecret == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(masterSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal returns "enc:v1:<base64>" for non-empty plaintext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if s == nil {
		return "", errors.New("encrypted value found but no master key is configured")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}
