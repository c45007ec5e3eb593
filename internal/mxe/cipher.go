package mxe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the AES-GCM nonce prefix on every sealed blob.
	NonceSize = 12

	minMasterSecretLen = 32
	cipherKeyLen       = 32
	cipherInfo         = "sealedmarket/bet/v1"
)

// ErrShortCiphertext is returned for blobs too short to hold a nonce and tag.
var ErrShortCiphertext = errors.New("mxe: ciphertext too short")

// Cipher opens confidential payloads inside the computation boundary. The
// market ID scopes the key so a blob sealed for one market cannot be
// replayed into another.
type Cipher interface {
	Open(marketID string, blob []byte) ([]byte, error)
}

// AEADCipher seals and opens payloads with AES-256-GCM under a per-market
// key derived from the enclave master secret with HKDF-SHA256.
// Blob layout: nonce(12) || ciphertext || tag(16).
type AEADCipher struct {
	master []byte
}

// NewAEADCipher returns an AEADCipher for the given master secret.
func NewAEADCipher(masterSecret []byte) (*AEADCipher, error) {
	if len(masterSecret) < minMasterSecretLen {
		return nil, fmt.Errorf("mxe: master secret must be at least %d bytes, got %d", minMasterSecretLen, len(masterSecret))
	}
	m := make([]byte, len(masterSecret))
	copy(m, masterSecret)
	return &AEADCipher{master: m}, nil
}

// Seal encrypts plaintext for marketID with a random nonce. This is the
// operation a depositor's client performs before submitting a bet.
func (c *AEADCipher) Seal(marketID string, plaintext []byte) ([]byte, error) {
	aead, err := c.aead(marketID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("mxe: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a sealed blob.
func (c *AEADCipher) Open(marketID string, blob []byte) ([]byte, error) {
	aead, err := c.aead(marketID)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize+aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	pt, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("mxe: authentication failed: %w", err)
	}
	return pt, nil
}

func (c *AEADCipher) aead(marketID string) (cipher.AEAD, error) {
	key := make([]byte, cipherKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, []byte(marketID), []byte(cipherInfo)), key); err != nil {
		return nil, fmt.Errorf("mxe: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mxe: creating cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// PlainCipher passes payloads through unchanged. Development and tests only.
type PlainCipher struct{}

// Open returns a copy of blob.
func (PlainCipher) Open(_ string, blob []byte) ([]byte, error) {
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Seal returns a copy of plaintext.
func (PlainCipher) Seal(_ string, plaintext []byte) ([]byte, error) {
	return PlainCipher{}.Open("", plaintext)
}
