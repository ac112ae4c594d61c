// ABOUTME: Ed25519 receipt signing with keys loaded from OpenSSH private key files
// ABOUTME: Signatures verify offline against the platform public key alone

package settle

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// ErrBadSignature means a receipt payload does not verify under the given key.
var ErrBadSignature = errors.New("receipt signature verification failed")

// Signer signs receipt payloads with the platform Ed25519 key.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner wraps an Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return &Signer{priv: priv}, nil
}

// LoadSigner reads an OpenSSH-format Ed25519 private key from disk.
func LoadSigner(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key %s: %w", path, err)
	}

	parsed, err := ssh.ParseRawPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key %s: %w", path, err)
	}

	switch key := parsed.(type) {
	case ed25519.PrivateKey:
		return NewSigner(key)
	case *ed25519.PrivateKey:
		return NewSigner(*key)
	default:
		return nil, fmt.Errorf("signing key %s is %T, want ed25519", path, parsed)
	}
}

// Sign signs a receipt payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

// Public returns the verification key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Fingerprint returns the SHA256 fingerprint of the public key, lowercase
// hex without colons.
func (s *Signer) Fingerprint() (string, error) {
	pubkey, err := ssh.NewPublicKey(s.Public())
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	sum := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(sum[:]), nil
}

// VerifySignature checks a payload/signature pair against a public key.
// Any party holding the platform public key can run this check without
// access to the document store.
func VerifySignature(pub ed25519.PublicKey, payload, signature []byte) error {
	if !ed25519.Verify(pub, payload, signature) {
		return ErrBadSignature
	}
	return nil
}
