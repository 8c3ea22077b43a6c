package identity

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the key-sealing key from the registry
// secret.
const (
	kdfTime    = 2
	kdfMemory  = 19 * 1024
	kdfThreads = 1
	saltLen    = 16
)

// keySealer encrypts private keys at rest with XChaCha20-Poly1305.
type keySealer struct {
	aead cipher.AEAD
}

func newKeySealer(secret string) (*keySealer, error) {
	if secret == "" {
		return nil, errors.New("identity secret is required")
	}
	// Keys only live for the lifetime of the process, so a per-process salt
	// is sufficient.
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &keySealer{aead: aead}, nil
}

func (s *keySealer) seal(priv ed25519.PrivateKey) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(priv)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, priv, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *keySealer) open(sealed string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed key: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("sealed key too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed key: %w", err)
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sealed key has length %d", len(plain))
	}
	return ed25519.PrivateKey(plain), nil
}
