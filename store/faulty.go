package store

import "sync"

// Faulty wraps a Database and fails reads or batch writes on demand. It is
// used to exercise commit failure and corruption paths.
type Faulty struct {
	Database

	mu       sync.Mutex
	readErr  error
	writeErr error
	writes   int
}

// NewFaulty wraps db. With no error set it behaves exactly like db.
func NewFaulty(db Database) *Faulty {
	return &Faulty{Database: db}
}

// SetReadError makes every Get fail with err until cleared with nil.
func (f *Faulty) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// SetWriteError makes every batch Write fail with err, without applying
// anything, until cleared with nil.
func (f *Faulty) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Writes returns the number of batches applied through the wrapper.
func (f *Faulty) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *Faulty) Get(key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return f.Database.Get(key)
}

func (f *Faulty) NewBatch() Batch {
	return &faultyBatch{Batch: f.Database.NewBatch(), f: f}
}

type faultyBatch struct {
	Batch
	f *Faulty
}

func (b *faultyBatch) Write() error {
	b.f.mu.Lock()
	err := b.f.writeErr
	b.f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := b.Batch.Write(); err != nil {
		return err
	}
	b.f.mu.Lock()
	b.f.writes++
	b.f.mu.Unlock()
	return nil
}
