package overlay

import "sync"

// Status is the transaction state of the forest.
type Status int

const (
	// StatusClean means no writes are pending since the last commit or
	// rollback.
	StatusClean Status = iota

	// StatusDirty means at least one write is pending.
	StatusDirty
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusClean:
		return "CLEAN"
	case StatusDirty:
		return "DIRTY"
	default:
		return "UNKNOWN"
	}
}

// StatusTracker tracks the transaction state shared by all trees.
// It provides thread-safe access so callers outside the worker can read it.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusTracker creates a tracker in the CLEAN state.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{status: StatusClean}
}

// Get returns the current status.
func (st *StatusTracker) Get() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// MarkDirty transitions to DIRTY.
// Returns true if the state changed.
func (st *StatusTracker) MarkDirty() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status == StatusDirty {
		return false
	}
	st.status = StatusDirty
	return true
}

// MarkClean transitions to CLEAN after a commit or rollback.
// Returns true if the state changed.
func (st *StatusTracker) MarkClean() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status == StatusClean {
		return false
	}
	st.status = StatusClean
	return true
}

// IsDirty returns true if writes are pending.
func (st *StatusTracker) IsDirty() bool {
	return st.Get() == StatusDirty
}
