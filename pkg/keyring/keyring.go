// Package keyring provides the signing provider used to seal forensic
// evidence digests and the HKDF-based derivation of fresh credential
// material. The in-memory provider serves development and tests; the
// Provider interface allows swapping in an HSM or cloud KMS.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Provider defines the interface for signing operations.
type Provider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryProvider is an in-memory Provider for development and tests.
type MemoryProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryProvider generates a fresh ed25519 keypair.
func NewMemoryProvider() (*MemoryProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate: %w", err)
	}
	return &MemoryProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Keyring signs governance artifacts using a Provider.
type Keyring struct {
	provider Provider
}

// New creates a Keyring. A nil provider falls back to a fresh in-memory one.
func New(p Provider) *Keyring {
	if p == nil {
		p, _ = NewMemoryProvider()
	}
	return &Keyring{provider: p}
}

// Sign signs raw bytes and returns the hex-encoded signature.
func (k *Keyring) Sign(msg []byte) (string, error) {
	sig, err := k.provider.Sign(msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex-encoded signature over msg against the keyring's
// public key.
func (k *Keyring) Verify(msg []byte, hexSig string) bool {
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	return ed25519.Verify(k.provider.PublicKey(), msg, sig)
}

// PublicKey exposes the verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.PublicKey()
}

// DeriveMaterial derives length bytes of key material from a seed and a
// context label using HKDF-SHA256. Rotation and replacement use this to
// produce new secret material bound to the key identity without reusing
// raw randomness.
func DeriveMaterial(seed []byte, label string, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("keyring: material length must be positive")
	}
	r := hkdf.New(sha256.New, seed, []byte("aegis-credential-kdf"), []byte(label))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("keyring: hkdf derivation failed: %w", err)
	}
	return out, nil
}
