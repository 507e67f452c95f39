package store

import (
	"errors"
	"fmt"
	"os"
)

// Backend names a key-value engine.
type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendPebble  Backend = "pebble"
	// BackendMemory is LevelDB over in-memory storage; nothing survives Close.
	BackendMemory Backend = "memory"
)

var errClosed = errors.New("database closed")

// Database is the raw key-value layer under LeafStore. Writes only happen
// through batches so that a commit is all-or-nothing.
type Database interface {
	// Get returns (nil, false, nil) if the key is absent.
	Get(key []byte) ([]byte, bool, error)
	NewBatch() Batch
	// Wipe deletes every key.
	Wipe() error
	Close() error
}

// Batch collects puts and applies them atomically with Write. A batch that
// failed to write may be discarded; nothing it holds becomes visible.
type Batch interface {
	Put(key, value []byte)
	Len() int
	Write() error
	Reset()
}

// Open opens a database of the given backend at path. The memory backend
// ignores path.
func Open(backend Backend, path string) (Database, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryLevelDB()
	case "", BackendLevelDB:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return NewLevelDB(path)
	case BackendPebble:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return NewPebble(path)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func ensureDir(path string) error {
	if path == "" {
		return errors.New("database path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create database dir %s: %w", path, err)
	}
	return nil
}
