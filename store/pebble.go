package store

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble wraps a cockroachdb/pebble database.
type Pebble struct {
	db     *pebble.DB
	closed atomic.Bool
}

// NewPebble opens or creates a pebble database at path.
func NewPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

// NewMemoryPebble opens pebble over an in-memory filesystem.
func NewMemoryPebble() (*Pebble, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(key []byte) ([]byte, bool, error) {
	if p.closed.Load() {
		return nil, false, errClosed
	}
	data, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %x: %w", key, err)
	}
	// data is only valid until closer is closed
	ret := append([]byte(nil), data...)
	return ret, true, closer.Close()
}

func (p *Pebble) NewBatch() Batch {
	return &pebbleBatch{p: p, b: p.db.NewBatch()}
}

// Wipe deletes the full key range. Every key written by LeafStore starts
// with a printable tag byte, so [0x00, 0xff) covers them all.
func (p *Pebble) Wipe() error {
	if p.closed.Load() {
		return errClosed
	}
	if err := p.db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	return nil
}

// Close is idempotent. Only the first call reaches pebble, which panics
// when closed twice.
func (p *Pebble) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

type pebbleBatch struct {
	p   *Pebble
	b   *pebble.Batch
	err error
}

func (b *pebbleBatch) Put(key, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Len() int { return int(b.b.Count()) }

func (b *pebbleBatch) Reset() {
	b.b.Reset()
	b.err = nil
}

// Write commits with pebble.Sync so the batch is durable on return.
func (b *pebbleBatch) Write() error {
	if b.err != nil {
		return fmt.Errorf("batch put: %w", b.err)
	}
	if b.p.closed.Load() {
		return errClosed
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	return nil
}
