// Package crypto seals the API credential before it is written to the
// settings table. Uses AES-256-GCM with a machine-scoped key so a copied
// database file does not leak the token.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Seal encrypts plaintext with a key derived from keyMaterial via SHA-256
// and returns a base64 string suitable for the settings table.
func Seal(plaintext []byte, keyMaterial string) (string, error) {
	gcm, err := newGCM(keyMaterial)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal.
func Open(sealed string, keyMaterial string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(keyMaterial)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(keyMaterial string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(keyMaterial))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MachineKey derives key material from the hostname and the data directory.
// Stable across restarts on the same machine, different across installs.
func MachineKey(dataDir string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "ledgersync"
	}
	return host + "|" + dataDir
}
