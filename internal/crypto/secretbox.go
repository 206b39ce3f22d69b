// Package crypto provides the at-rest encryption used by the local message
// log, plus management of the daemon's secret key file.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

// Seal marshals data (unless it is already raw bytes) and encrypts it in a
// NaCl secretbox under a fresh random nonce. The 24-byte nonce is prepended
// to the returned ciphertext, so a sealed value is self-contained given the
// secret.
func Seal(data any, secret *[32]byte) ([]byte, error) {
	var plaintext []byte
	switch v := data.(type) {
	case json.RawMessage:
		plaintext = []byte(v)
	case []byte:
		plaintext = v
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		plaintext = encoded
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	encrypted := secretbox.Seal(nil, plaintext, &nonce, secret)

	result := make([]byte, 24+len(encrypted))
	copy(result[0:24], nonce[:])
	copy(result[24:], encrypted)
	return result, nil
}

// Open splits off the nonce Seal prepended, authenticates and decrypts the
// box, and unmarshals the plaintext into target.
func Open(encrypted []byte, secret *[32]byte, target any) error {
	if len(encrypted) < 24 {
		return fmt.Errorf("encrypted data too short")
	}

	var nonce [24]byte
	copy(nonce[:], encrypted[0:24])

	decrypted, ok := secretbox.Open(nil, encrypted[24:], &nonce, secret)
	if !ok {
		return fmt.Errorf("decryption failed")
	}

	if err := json.Unmarshal(decrypted, target); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// SealString is Seal with base64 output, for storage in text columns.
func SealString(data any, secret *[32]byte) (string, error) {
	raw, err := Seal(data, secret)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// OpenString reverses SealString.
func OpenString(cipher string, secret *[32]byte, target any) error {
	raw, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return Open(raw, secret, target)
}

// GetOrCreateSecretKey loads the daemon secret key from path, generating and
// persisting a new one on first use.
func GetOrCreateSecretKey(path string) (*[32]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		raw, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode key: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("invalid key length: %d (expected 32)", len(raw))
		}
		var key [32]byte
		copy(key[:], raw)
		return &key, nil
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}
	return &key, nil
}
