package secretcodec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the symmetric key length used for sealing.
	KeySize = chacha20poly1305.KeySize
	// Delimiter separates the nonce from the ciphertext in sealed blobs.
	Delimiter = ":"

	keyDerivationInfo = "goCustodyAuth/secretcodec/v1"
)

var (
	// ErrDecryption is returned when a sealed blob is malformed or fails
	// authentication.
	ErrDecryption = errors.New("secret decryption failed")
	// ErrEmptySecret is returned when the codec is built without key material.
	ErrEmptySecret = errors.New("codec secret must not be empty")
)

// Codec seals and opens short secrets. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives a fixed-length key from secret and returns a ready codec.
// Secrets shorter than KeySize are stretched with HKDF-SHA256, longer ones
// are truncated.
func New(secret []byte) (*Codec, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if len(secret) >= KeySize {
		key := make([]byte, KeySize)
		copy(key, secret[:KeySize])
		return key, nil
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive codec key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64url(nonce) + Delimiter + base64url(ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	var b strings.Builder
	b.Grow(base64.RawURLEncoding.EncodedLen(len(nonce)) + 1 + base64.RawURLEncoding.EncodedLen(len(sealed)))
	b.WriteString(base64.RawURLEncoding.EncodeToString(nonce))
	b.WriteString(Delimiter)
	b.WriteString(base64.RawURLEncoding.EncodeToString(sealed))
	return b.String(), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Codec) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, Delimiter)
	if len(parts) != 2 {
		return "", ErrDecryption
	}

	nonce, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrDecryption
	}
	sealed, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryption
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// RandomOpaqueToken returns byteLength random bytes encoded as unpadded
// base64url.
func RandomOpaqueToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", errors.New("token length must be positive")
	}
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
