// Package crypto seals the Huami account secrets kept for silent token
// refresh.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "healthup-wearable-credentials-v1"

var (
	ErrInvalidKey      = errors.New("credentials key must decode to at least 32 bytes")
	ErrCiphertextShort = errors.New("ciphertext too short")
)

// SecretBox encrypts short strings with XChaCha20-Poly1305. Output is
// base64(nonce || ciphertext).
type SecretBox struct {
	key []byte
}

// NewSecretBox derives the AEAD key from master, which may be hex, base64 or
// raw text of at least 32 bytes.
func NewSecretBox(master string) (*SecretBox, error) {
	ikm := parseKey(master)
	if len(ikm) < 32 {
		return nil, ErrInvalidKey
	}

	h := hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &SecretBox{key: key}, nil
}

func parseKey(master string) []byte {
	if b, err := hex.DecodeString(master); err == nil && len(b) >= 32 {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(master); err == nil && len(b) >= 32 {
		return b
	}
	return []byte(master)
}

// Seal binds the ciphertext to userID so a row copied to another user fails
// to open.
func (s *SecretBox) Seal(plaintext, userID string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(userID))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *SecretBox) Open(sealed, userID string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	ns := aead.NonceSize()
	if len(blob) < ns+aead.Overhead() {
		return "", ErrCiphertextShort
	}
	pt, err := aead.Open(nil, blob[:ns], blob[ns:], []byte(userID))
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(pt), nil
}
