package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Credentials is the material needed to open an authenticated session with
// one exchange account.
type Credentials struct {
	Exchange   string
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
}

// Fingerprint derives a stable identity for a credential set. The pool uses
// it as the cache key so raw secret material is never stored or compared
// directly.
func (c Credentials) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(c.Exchange))))
	h.Write([]byte{0})
	h.Write([]byte(c.APIKey))
	h.Write([]byte{0})
	h.Write([]byte(c.APISecret))
	h.Write([]byte{0})
	h.Write([]byte(c.Passphrase))
	h.Write([]byte{0})
	if c.Sandbox {
		h.Write([]byte("sandbox"))
	} else {
		h.Write([]byte("live"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cipherKey() ([]byte, error) {
	config := GetConfig()
	key, err := base64.StdEncoding.DecodeString(config.ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// EncryptString seals a secret with the configured key. Output is base64 of
// nonce||ciphertext.
func EncryptString(plaintext string) (string, error) {
	key, err := cipherKey()
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	key, err := cipherKey()
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credentials: %w", err)
	}
	return string(plaintext), nil
}
