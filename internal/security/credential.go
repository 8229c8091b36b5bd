// Package security implements the encrypted credential store: a
// name-to-secret map backed by a relational table, encrypted under a key
// loaded once at boot and never hot-reloaded.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length of the boot credential key.
const KeySize = 32

// nonceSize is secretbox's fixed nonce length.
const nonceSize = 24

var (
	// ErrInvalidKey is returned when the boot key is not KeySize bytes.
	ErrInvalidKey = errors.New("credential key must be 32 bytes")
	// ErrDecryptFailed is returned when ciphertext fails to authenticate
	// under the configured key (wrong key, corrupt row, or tampering).
	ErrDecryptFailed = errors.New("credential decryption failed")
)

// CredentialCipher encrypts and decrypts credential values under a single
// process-wide key, read once at boot. It never swaps the key at runtime;
// key rotation is a migration (see Rotate), not a hot-reload path.
type CredentialCipher struct {
	key [KeySize]byte
}

// DecodeKey parses a configured key string into raw key bytes. Accepts
// standard and URL-safe base64 (Fernet keys are the latter); a bare
// 32-character string is taken as the raw key.
func DecodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidKey
	}
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) == KeySize {
			return decoded, nil
		}
	}
	if len(value) == KeySize {
		return []byte(value), nil
	}
	return nil, ErrInvalidKey
}

// NewCredentialCipher constructs a cipher from a raw 32-byte key.
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	c := &CredentialCipher{}
	copy(c.key[:], key)
	return c, nil
}

// Seal encrypts plaintext, returning ciphertext and the random salt (nonce)
// used, both of which are persisted verbatim alongside the credential name.
func (c *CredentialCipher) Seal(plaintext string) (ciphertext, salt []byte, err error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, []byte(plaintext), &nonce, &c.key)
	return sealed, nonce[:], nil
}

// Open decrypts ciphertext sealed with Seal using the given salt (nonce).
func (c *CredentialCipher) Open(ciphertext, salt []byte) (string, error) {
	if len(salt) != nonceSize {
		return "", ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], salt)
	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &c.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

// Rotate re-encrypts ciphertext sealed under oldCipher into ciphertext
// sealed under c (the new key). Used by the `migrate rotate-credential-key`
// command to re-encrypt every row without ever holding both keys longer
// than a single row's migration.
func (c *CredentialCipher) Rotate(oldCipher *CredentialCipher, ciphertext, salt []byte) (newCiphertext, newSalt []byte, err error) {
	plain, err := oldCipher.Open(ciphertext, salt)
	if err != nil {
		return nil, nil, err
	}
	return c.Seal(plain)
}
