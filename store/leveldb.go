package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// wipeBatchSize bounds the number of deletes per batch while wiping.
const wipeBatchSize = 4096

var syncWrites = &opt.WriteOptions{Sync: true}

// LevelDB wraps goleveldb. LevelDB handles its own synchronization.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens or creates a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryLevelDB creates an in-memory LevelDB for tests and scratch use.
func NewMemoryLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, bool, error) {
	data, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err == leveldb.ErrClosed {
		return nil, false, errClosed
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %x: %w", key, err)
	}
	return data, true, nil
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db}
}

func (l *LevelDB) Wipe() error {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	b := new(leveldb.Batch)
	for iter.Next() {
		b.Delete(append([]byte(nil), iter.Key()...))
		if b.Len() >= wipeBatchSize {
			if err := l.db.Write(b, syncWrites); err != nil {
				return fmt.Errorf("wipe: %w", err)
			}
			b.Reset()
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	if err := l.db.Write(b, syncWrites); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	return nil
}

// Close is idempotent.
func (l *LevelDB) Close() error {
	if err := l.db.Close(); err != nil && err != leveldb.ErrClosed {
		return err
	}
	return nil
}

type levelBatch struct {
	db *leveldb.DB
	b  leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.b.Put(key, value) }

func (b *levelBatch) Len() int { return b.b.Len() }

func (b *levelBatch) Reset() { b.b.Reset() }

// Write applies the batch and syncs it before returning.
func (b *levelBatch) Write() error {
	if err := b.db.Write(&b.b, syncWrites); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	return nil
}
