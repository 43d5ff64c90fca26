package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ternarybob/campussync/internal/interfaces"
)

// ErrTokenTooShort is returned for tokens that cannot even hold a nonce
var ErrTokenTooShort = errors.New("vault token is shorter than the nonce")

// Service is the AES-256-GCM credential vault.
// Tokens are base64(nonce || ciphertext || tag) with a fresh random nonce per call.
type Service struct {
	aead   cipher.AEAD
	random io.Reader
}

var _ interfaces.Vault = (*Service)(nil)

// NewService builds a vault from a 32-byte master key
func NewService(key []byte) (*Service, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Service{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext under a nonce drawn from crypto/rand
func (s *Service) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	payload := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a token produced by Encrypt. Tag mismatch is always an error.
func (s *Service) Decrypt(token string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode vault token: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", ErrTokenTooShort
	}

	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt vault token: %w", err)
	}
	return string(plaintext), nil
}
