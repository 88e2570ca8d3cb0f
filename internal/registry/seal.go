package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealPrefix = "sb1:"
	keySize    = 32
	nonceSize  = 24
)

// Sealer encrypts credential secrets at rest with NaCl secretbox.
type Sealer struct {
	key [keySize]byte
}

// NewSealer accepts a 32-byte key encoded as base64 or hex. Any other string
// is treated as a passphrase and stretched with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("registry secret key is empty")
	}

	s := &Sealer{}
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil && len(b) == keySize {
		copy(s.key[:], b)
		return s, nil
	}
	if len(secret) == 2*keySize {
		if b, err := hex.DecodeString(secret); err == nil {
			copy(s.key[:], b)
			return s, nil
		}
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("namedfs registry secret"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("derive registry key: %w", err)
	}
	return s, nil
}

// IsSealed reports whether v was produced by Seal.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealPrefix)
}

// Seal encrypts plain. Empty and already sealed values are returned as is.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" || IsSealed(plain) {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open decrypts a sealed value. Values without the seal prefix are returned
// unchanged so records written before a key was configured stay readable.
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return sealed, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed secret: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("sealed secret too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("sealed secret failed authentication")
	}
	return string(plain), nil
}
