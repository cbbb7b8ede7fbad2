package utxostore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketOutputs = []byte("outputs")
	bucketScripts = []byte("scripts") // scriptID + outpoint -> nil (index)
	bucketStatus  = []byte("status")
)

// BoltStore is a Store backed by a bbolt database. Every ApplyDiff batch is
// one bbolt write transaction, which gives the all-or-nothing guarantee the
// sync engine relies on.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("utxostore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("utxostore: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOutputs, bucketScripts, bucketStatus} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("utxostore: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// opKey encodes an outpoint as txid(32) + vout(4 big-endian) for sorted
// storage.
func opKey(op Outpoint) []byte {
	k := make([]byte, HashSize+4)
	copy(k, op.TxID[:])
	binary.BigEndian.PutUint32(k[HashSize:], op.Vout)
	return k
}

// scriptKey builds a script index key: scriptID + 0x00 + outpoint key.
func scriptKey(scriptID string, op Outpoint) []byte {
	k := make([]byte, 0, len(scriptID)+1+HashSize+4)
	k = append(k, scriptID...)
	k = append(k, 0x00)
	return append(k, opKey(op)...)
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Get retrieves a cached output by outpoint.
func (s *BoltStore) Get(op Outpoint) (*TrackedOutput, error) {
	var out TrackedOutput
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOutputs).Get(opKey(op))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		}
		return decodeGob(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Put inserts a single output.
func (s *BoltStore) Put(out *TrackedOutput) error {
	if out == nil {
		return fmt.Errorf("%w: output", ErrNilParam)
	}
	if out.ScriptID == "" {
		return ErrEmptyScriptID
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(bucketOutputs)
		key := opKey(out.Outpoint)
		if ob.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateOutput, out.Outpoint)
		}
		return putOutput(tx, out)
	})
}

// putOutput writes a record and its script index entry inside tx.
func putOutput(tx *bbolt.Tx, out *TrackedOutput) error {
	data, err := encodeGob(out)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := tx.Bucket(bucketOutputs).Put(opKey(out.Outpoint), data); err != nil {
		return fmt.Errorf("put output: %w", err)
	}
	if err := tx.Bucket(bucketScripts).Put(scriptKey(out.ScriptID, out.Outpoint), nil); err != nil {
		return fmt.Errorf("put script index: %w", err)
	}
	return nil
}

// ListByScript returns all cached outputs for a script.
func (s *BoltStore) ListByScript(scriptID string) ([]*TrackedOutput, error) {
	return s.list(scriptID, false)
}

// ListUnspent returns the cached unspent outputs for a script.
func (s *BoltStore) ListUnspent(scriptID string) ([]*TrackedOutput, error) {
	return s.list(scriptID, true)
}

func (s *BoltStore) list(scriptID string, unspentOnly bool) ([]*TrackedOutput, error) {
	var result []*TrackedOutput
	prefix := append([]byte(scriptID), 0x00)

	err := s.db.View(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(bucketOutputs)
		c := tx.Bucket(bucketScripts).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := ob.Get(k[len(prefix):])
			if data == nil {
				return fmt.Errorf("%w: dangling index entry", ErrNotFound)
			}
			var out TrackedOutput
			if err := decodeGob(data, &out); err != nil {
				return fmt.Errorf("decode output: %w", err)
			}
			if unspentOnly && out.Spent {
				continue
			}
			result = append(result, &out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyDiff atomically applies a sync batch for a script in one write
// transaction.
func (s *BoltStore) ApplyDiff(scriptID string, diff *Diff, lastStatus string) error {
	if diff == nil {
		return fmt.Errorf("%w: diff", ErrNilParam)
	}
	if scriptID == "" {
		return ErrEmptyScriptID
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(bucketOutputs)

		// Spends and reconfirmations first, then additions. bbolt rolls
		// the whole transaction back on any error.
		for _, op := range diff.Spent {
			data := ob.Get(opKey(op))
			if data == nil {
				return fmt.Errorf("%w: spend of %s", ErrNotFound, op)
			}
			var out TrackedOutput
			if err := decodeGob(data, &out); err != nil {
				return fmt.Errorf("decode output: %w", err)
			}
			out.Spent = true
			if err := putOutput(tx, &out); err != nil {
				return err
			}
		}
		for _, rec := range diff.Reconfirmed {
			data := ob.Get(opKey(rec.Outpoint))
			if data == nil {
				return fmt.Errorf("%w: reconfirmation of %s", ErrNotFound, rec.Outpoint)
			}
			var out TrackedOutput
			if err := decodeGob(data, &out); err != nil {
				return fmt.Errorf("decode output: %w", err)
			}
			out.Height = rec.Height
			out.Spent = rec.Spent
			if err := putOutput(tx, &out); err != nil {
				return err
			}
		}
		for _, out := range diff.Added {
			if err := putOutput(tx, out); err != nil {
				return err
			}
		}

		// Stamp the new token and complete the sync counters. Total was
		// recorded by the engine before the diff was built.
		total := 0
		if data := tx.Bucket(bucketStatus).Get([]byte(scriptID)); data != nil {
			var prev ScriptStatus
			if err := decodeGob(data, &prev); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			total = prev.Total
		}
		return putStatus(tx, &ScriptStatus{
			ScriptID:   scriptID,
			LastStatus: lastStatus,
			Synced:     total,
			Total:      total,
		})
	})
}

// putStatus writes a status record inside tx.
func putStatus(tx *bbolt.Tx, status *ScriptStatus) error {
	data, err := encodeGob(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := tx.Bucket(bucketStatus).Put([]byte(status.ScriptID), data); err != nil {
		return fmt.Errorf("put status: %w", err)
	}
	return nil
}

// GetStatus returns the subscription status for a script.
func (s *BoltStore) GetStatus(scriptID string) (*ScriptStatus, error) {
	var st ScriptStatus
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStatus).Get([]byte(scriptID))
		if data == nil {
			return fmt.Errorf("%w: status for script %q", ErrNotFound, scriptID)
		}
		return decodeGob(data, &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PutStatus stores a subscription status record.
func (s *BoltStore) PutStatus(status *ScriptStatus) error {
	if status == nil {
		return fmt.Errorf("%w: status", ErrNilParam)
	}
	if status.ScriptID == "" {
		return ErrEmptyScriptID
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putStatus(tx, status)
	})
}
