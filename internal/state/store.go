// Package state persists the configured credentials across restarts.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/portalpilot/portalpilot/internal/creds"
)

var (
	bucketCreds = []byte("credentials")
	keyCreds    = []byte("active")
)

// Store persists the single active credential set. The engine keeps exactly
// one configuration at a time; SetConfig replaces it wholesale.
type Store interface {
	Save(c creds.Credentials) error
	Load() (*creds.Credentials, error)
	Clear() error
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates the credential database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Credentials are secrets; keep the file owner-only.
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCreds)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Save replaces the stored credentials.
func (s *BoltStore) Save(c creds.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCreds)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put(keyCreds, data)
	})
}

// Load returns the stored credentials, or nil when none are configured.
func (s *BoltStore) Load() (*creds.Credentials, error) {
	var c creds.Credentials
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCreds)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get(keyCreds)
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}
	return &c, nil
}

// Clear removes the stored credentials.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCreds)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete(keyCreds)
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store in memory, for tests and for running without
// persistence.
type MemoryStore struct {
	mu sync.RWMutex
	c  *creds.Credentials
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored credentials.
func (s *MemoryStore) Save(c creds.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	clone := c.Clone()
	s.mu.Lock()
	s.c = &clone
	s.mu.Unlock()
	return nil
}

// Load returns the stored credentials, or nil when none are configured.
func (s *MemoryStore) Load() (*creds.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.c == nil {
		return nil, nil
	}
	clone := s.c.Clone()
	return &clone, nil
}

// Clear removes the stored credentials.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.c = nil
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
