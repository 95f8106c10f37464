package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("checkpoints")

// Cursor marks the last fully processed position in an ingestion sequence.
// Page-granular: a saved cursor means every page before Page has been
// transformed and written to the graph, so a resumed run starts at Page.
type Cursor struct {
	Page      int       `json:"page"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists per-(repository, mode) cursors in a local bbolt file.
// Different ingestion modes advance independently, so the key is the pair.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the checkpoint database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the cursor for (repoKey, mode) and whether one exists.
func (s *Store) Load(repoKey, mode string) (Cursor, bool, error) {
	var cursor Cursor
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(key(repoKey, mode))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &cursor); err != nil {
			return fmt.Errorf("decode checkpoint %s/%s: %w", repoKey, mode, err)
		}
		found = true
		return nil
	})

	return cursor, found, err
}

// Save persists the cursor. Within a mode the cursor only ever advances:
// a save at or behind the stored position is ignored, so a lagging writer
// can never roll a checkpoint back.
func (s *Store) Save(repoKey, mode string, cursor Cursor) error {
	cursor.UpdatedAt = time.Now().UTC()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		k := key(repoKey, mode)

		if raw := b.Get(k); raw != nil {
			var existing Cursor
			if err := json.Unmarshal(raw, &existing); err == nil && existing.Page >= cursor.Page {
				return nil
			}
		}

		raw, err := json.Marshal(cursor)
		if err != nil {
			return fmt.Errorf("encode checkpoint %s/%s: %w", repoKey, mode, err)
		}
		return b.Put(k, raw)
	})
}

// Reset removes the cursor for (repoKey, mode). The explicit administrative
// rollback; ingestion never calls it.
func (s *Store) Reset(repoKey, mode string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key(repoKey, mode))
	})
}

func key(repoKey, mode string) []byte {
	return []byte(repoKey + "|" + mode)
}
