package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"
)

// ChainHash computes the hash of an audit entry over its payload and the
// predecessor's hash. Stores must use this so every backend chains the
// same way.
func ChainHash(e AuditEntry) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{
		strconv.Itoa(e.Seq),
		e.At.UTC().Format(time.RFC3339Nano),
		e.Actor,
		e.Action,
		e.Target,
		e.Note,
		e.PrevHash,
	} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes every link. It returns the index of the first
// broken entry, or -1 when the chain is intact.
func VerifyChain(entries []AuditEntry) int {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return i
		}
		if ChainHash(e) != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}
