package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// Store persists chat history using BoltDB so peers can reload recent
// conversations on restart. A nil Store is a valid no-op.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (or creates) the history database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append persists one entry under its scope's bucket.
func (s *Store) Append(e Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(e.ScopeKey()))
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%020d-%s", e.Timestamp.UnixNano(), e.ID))
		return bucket.Put(key, data)
	})
}

// Recent returns up to limit entries from a scope, newest last.
func (s *Store) Recent(scopeKey string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil || limit <= 0 {
		return nil, nil
	}
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scopeKey))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		remaining := limit
		for k, v := cursor.Last(); k != nil && remaining > 0; k, v = cursor.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err == nil {
				out = append(out, e)
			}
			remaining--
		}
		return nil
	})
	// Cursor walked newest-first; flip to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}
