// Package secret provides the reversible credential transform. Sealing is
// best effort: without a key, values pass through unchanged and the degraded
// posture is logged once.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// envelopePrefix marks sealed values. Anything without it is treated as
// plaintext and passed through Open unchanged.
const envelopePrefix = "sf1:"

// Box seals and opens strings with a symmetric key.
type Box struct {
	key *[32]byte
	log *logrus.Entry
}

// NewBox builds a Box from a base64-encoded 32-byte key. An empty key yields
// a pass-through box; data will be stored in plain text.
func NewBox(encodedKey string, log *logrus.Entry) (*Box, error) {
	b := &Box{log: log}
	if encodedKey == "" {
		log.Warn("no encryption key configured, credentials will be stored in plain text")
		return b, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(raw))
	}
	b.key = new([32]byte)
	copy(b.key[:], raw)
	return b, nil
}

// Enabled reports whether sealing is active.
func (b *Box) Enabled() bool {
	return b.key != nil
}

// Seal encrypts s. With no key or an empty input it returns s unchanged.
func (b *Box) Seal(s string) string {
	if s == "" || b.key == nil {
		return s
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		b.log.Errorf("sealing failed, storing plain text: %v", err)
		return s
	}
	out := secretbox.Seal(nonce[:], []byte(s), &nonce, b.key)
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(out)
}

// Open decrypts a sealed value. Values that do not carry the envelope
// prefix, and values that fail to decrypt, are returned unchanged.
func (b *Box) Open(s string) string {
	if s == "" || b.key == nil {
		return s
	}
	if len(s) < len(envelopePrefix) || s[:len(envelopePrefix)] != envelopePrefix {
		return s
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[len(envelopePrefix):])
	if err != nil || len(raw) < 25 {
		b.log.Warnf("unsealing failed, returning value as-is: malformed envelope")
		return s
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, b.key)
	if !ok {
		b.log.Warn("unsealing failed, returning value as-is: wrong key or corrupt data")
		return s
	}
	return string(plain)
}

// Digest returns the hex SHA-256 of s. The store indexes credentials by this
// digest so fingerprint lookups work regardless of sealing.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
