// ABOUTME: Secretbox sealing for connector configs and stored objects
// ABOUTME: Ciphertexts are nonce-prefixed; the key comes from gateway config

package connector

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

const nonceSize = 24

// ParseKey decodes a hex-encoded 32-byte sealing key.
func ParseKey(s string) (*[KeySize]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding sealing key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(raw))
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// GenerateKey returns a fresh random sealing key, hex-encoded for config use.
func GenerateKey() (string, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("generating sealing key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// Seal encrypts plaintext under the key. The returned blob is the random
// nonce followed by the secretbox ciphertext.
func Seal(key *[KeySize]byte, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts a nonce-prefixed secretbox blob. Failure means the blob was
// tampered with or sealed under a different key.
func Open(key *[KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrCredentialConfig)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: decryption failed", ErrCredentialConfig)
	}
	return plaintext, nil
}
