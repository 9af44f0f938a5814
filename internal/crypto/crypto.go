// Package crypto seals configuration secrets so they can sit in a config
// file or environment without being readable in plain text.
package crypto

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

// Prefix marks a sealed value.
const Prefix = "enc:"

var (
	ErrShortMasterKey = errors.New("MASTER_KEY must be at least 32 bytes")
	ErrInvalidSealed  = errors.New("invalid sealed value")
)

type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(masterKey string) (*Sealer, error) {
	if len(masterKey) < 32 {
		return nil, ErrShortMasterKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte("rtchat config")), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext for the named setting. The name is authenticated,
// so a sealed value cannot be moved to another setting.
func (s *Sealer) Seal(name, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(name, value string) (string, error) {
	if len(value) < len(Prefix) || value[:len(Prefix)] != Prefix {
		return "", fmt.Errorf("%w: missing %q prefix", ErrInvalidSealed, Prefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(value[len(Prefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidSealed)
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidSealed, name, err)
	}
	return string(plaintext), nil
}
