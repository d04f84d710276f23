// Package seal is the recoverable counterpart to the zk hashing
// primitives: fields the owning user must read back (safety plans,
// emergency contacts) are encrypted here, never hashed.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidInput mirrors the zk package rule: no empty secrets.
	ErrInvalidInput = errors.New("seal: empty secret")
	// ErrDecrypt covers wrong secret, wrong context and tampered ciphertext alike.
	ErrDecrypt = errors.New("seal: cannot decrypt")
)

// Cipher encrypts and decrypts user-recoverable fields. The secret comes
// from the external key-holding collaborator and is never persisted.
type Cipher interface {
	Encrypt(plaintext, secret, context string) (string, error)
	Decrypt(ciphertext, secret, context string) (string, error)
}

// SecretBox derives a per-(secret, context) key with HKDF-SHA256 and
// seals with ChaCha20-Poly1305. Output is base64url(nonce || ciphertext).
type SecretBox struct{}

func NewSecretBox() *SecretBox { return &SecretBox{} }

func deriveKey(secret, context string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), []byte("haven.seal.v1"), []byte(context))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (b *SecretBox) Encrypt(plaintext, secret, context string) (string, error) {
	if secret == "" {
		return "", ErrInvalidInput
	}
	key, err := deriveKey(secret, context)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *SecretBox) Decrypt(ciphertext, secret, context string) (string, error) {
	if secret == "" {
		return "", ErrInvalidInput
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	key, err := deriveKey(secret, context)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(context))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// EncryptAll seals each element independently so single fields can be
// re-read without decrypting the whole set.
func EncryptAll(c Cipher, values []string, secret, context string) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		enc, err := c.Encrypt(v, secret, context)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// DecryptAll is the inverse of EncryptAll.
func DecryptAll(c Cipher, values []string, secret, context string) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		dec, err := c.Decrypt(v, secret, context)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}
