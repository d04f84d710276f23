// Package anchor timestamps commitments in an append-only LevelDB
// registry. Anchoring a commitment proves it existed at a point in time
// without revealing what it commits to; verification later checks that
// a presented commitment matches what was anchored.
package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Anchor kinds. The kind is public metadata; the commitment itself
// stays opaque.
const (
	KindCredential = "credential"
	KindConsent    = "consent"
	KindAudit      = "audit"
)

var ErrNotAnchored = errors.New("commitment not anchored")

// Record is one anchored commitment.
type Record struct {
	Seq        int       `json:"seq"`
	Commitment string    `json:"commitment"`
	Kind       string    `json:"kind"`
	At         time.Time `json:"at"`
}

// Registry is the LevelDB-backed anchor store. Writes are serialized so
// sequence numbers stay dense.
type Registry struct {
	mu  sync.Mutex
	db  *leveldb.DB
	now func() time.Time
}

// Open opens (creating if needed) the registry at dir.
func Open(dir string) (*Registry, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open anchor registry: %w", err)
	}
	return &Registry{db: db, now: time.Now}, nil
}

func anchorKey(commitment string) []byte { return []byte("anchor_" + commitment) }
func seqKey(seq int) []byte              { return []byte(fmt.Sprintf("seq_%012d", seq)) }

const metaSeqLatest = "meta_seq_latest"

func (r *Registry) latestSeq() (int, error) {
	v, err := r.db.Get([]byte(metaSeqLatest), nil)
	if err == ldberrors.ErrNotFound {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(v))
}

// Put anchors a commitment. Anchoring is idempotent: re-anchoring an
// already-present commitment returns the original record untouched.
func (r *Registry) Put(commitment, kind string) (*Record, error) {
	if commitment == "" {
		return nil, errors.New("empty commitment")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.get(commitment); err == nil {
		return existing, nil
	} else if err != ErrNotAnchored {
		return nil, err
	}

	last, err := r.latestSeq()
	if err != nil {
		return nil, err
	}
	rec := Record{Seq: last + 1, Commitment: commitment, Kind: kind, At: r.now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	batch := new(leveldb.Batch)
	batch.Put(anchorKey(commitment), data)
	batch.Put(seqKey(rec.Seq), data)
	batch.Put([]byte(metaSeqLatest), []byte(strconv.Itoa(rec.Seq)))
	if err := r.db.Write(batch, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) get(commitment string) (*Record, error) {
	v, err := r.db.Get(anchorKey(commitment), nil)
	if err == ldberrors.ErrNotFound {
		return nil, ErrNotAnchored
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the anchor record for a commitment, or ErrNotAnchored.
func (r *Registry) Get(commitment string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(commitment)
}

// Verify reports whether the commitment was anchored no later than t.
func (r *Registry) Verify(commitment string, t time.Time) (bool, error) {
	rec, err := r.Get(commitment)
	if err == ErrNotAnchored {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.At.After(t), nil
}

// List returns anchors in sequence order, newest last.
func (r *Registry) List(limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Record{}
	iter := r.db.NewIterator(util.BytesPrefix([]byte("seq_")), nil)
	defer iter.Release()
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) Close() error { return r.db.Close() }
