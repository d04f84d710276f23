// Package zk holds the commitment and nullifier primitives plus the
// pluggable proof backend interface. Outputs are hex-encoded SHA-256
// digests; nothing in this package ever emits secret material.
package zk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// ErrInvalidInput is returned when a payload, identifier or secret is empty.
// An empty secret collapses anonymity, so every caller must surface this.
var ErrInvalidInput = errors.New("zk: empty payload or secret")

// digest hashes the parts with a length prefix per part so that
// ("ab","c") and ("a","bc") cannot collide.
func digest(parts ...[]byte) []byte {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return h.Sum(nil)
}

// Commit binds payload to secret within a context. Same inputs always
// produce the same commitment; the payload and secret are not recoverable.
func Commit(payload, secret, context string) (string, error) {
	if payload == "" || secret == "" {
		return "", ErrInvalidInput
	}
	return hex.EncodeToString(digest([]byte("commitment"), []byte(payload), []byte(secret), []byte(context))), nil
}

// Nullify derives the use-once token for (identifier, secret) within a
// context. A nullifier observed twice means the same claim was replayed.
func Nullify(identifier, secret, context string) (string, error) {
	if identifier == "" || secret == "" {
		return "", ErrInvalidInput
	}
	return hex.EncodeToString(digest([]byte("nullifier"), []byte(context), []byte(identifier), []byte(secret))), nil
}

// HashHex is the shared one-way hash for anonymizing free-text fields
// (tags, categories, warning signs). Not for anything the user must read
// back; recoverable fields go through the seal package instead.
func HashHex(parts ...string) string {
	bs := make([][]byte, 0, len(parts))
	for _, p := range parts {
		bs = append(bs, []byte(p))
	}
	return hex.EncodeToString(digest(bs...))
}

// IsDigest reports whether s looks like one of our hex digests.
func IsDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
