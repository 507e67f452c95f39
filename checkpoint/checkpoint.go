package checkpoint

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
)

// Checkpoint is the last committed (root, size) of one tree.
type Checkpoint struct {
	Root common.Hash
	Size uint256.Int
}

// New returns a checkpoint holding a copy of size.
func New(root common.Hash, size *uint256.Int) Checkpoint {
	cp := Checkpoint{Root: root}
	cp.Size.Set(size)
	return cp
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("root=%s size=%s", c.Root.String_short(), c.Size.Dec())
}

// Shape is what Load needs to know about a tree to validate its checkpoint.
type Shape struct {
	Depth     uint8
	EmptyRoot common.Hash
}

// Manager keeps the in-memory checkpoint of every tree in step with the
// meta records in the store.
type Manager struct {
	store *store.LeafStore

	mu     sync.RWMutex
	points map[uint8]Checkpoint
}

// NewManager creates a manager with no checkpoints loaded.
func NewManager(s *store.LeafStore) *Manager {
	return &Manager{
		store:  s,
		points: make(map[uint8]Checkpoint),
	}
}

// Load reads the durable checkpoint of tree and checks it against the
// stored root node. A missing or inconsistent record is StorageCorruption.
func (m *Manager) Load(tree uint8, shape Shape) (Checkpoint, error) {
	meta, ok, err := m.store.Meta(tree)
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, stateerrors.Corruption(int(tree), "no checkpoint record")
	}
	capacity := new(uint256.Int).Lsh(uint256.NewInt(1), uint(shape.Depth))
	if meta.Size.Gt(capacity) {
		return Checkpoint{}, stateerrors.Corruption(int(tree), "checkpoint size %s exceeds capacity of depth %d", meta.Size.Dec(), shape.Depth)
	}

	if meta.Size.IsZero() {
		if meta.Root != shape.EmptyRoot {
			return Checkpoint{}, stateerrors.Corruption(int(tree), "empty tree has root %s, want %s", meta.Root, shape.EmptyRoot)
		}
	} else {
		stored, ok, err := m.store.Node(tree, 0, new(uint256.Int))
		if err != nil {
			return Checkpoint{}, err
		}
		if !ok || stored != meta.Root {
			return Checkpoint{}, stateerrors.Corruption(int(tree), "checkpoint root %s does not match stored root node", meta.Root)
		}
	}

	cp := New(meta.Root, &meta.Size)
	m.mu.Lock()
	m.points[tree] = cp
	m.mu.Unlock()
	log.Debug(log.CheckpointMonitoring, "checkpoint loaded", "tree", tree, "checkpoint", cp)
	return cp, nil
}

// Get returns the current checkpoint of tree.
func (m *Manager) Get(tree uint8) (Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.points[tree]
	return cp, ok
}

// Stage adds the meta record for cp to b. The checkpoint only moves once
// the batch is written and Advance is called.
func (m *Manager) Stage(b *store.WriteBatch, tree uint8, cp Checkpoint) {
	b.PutMeta(tree, store.Meta{Root: cp.Root, Size: cp.Size})
}

// Advance records cp as the checkpoint of tree.
func (m *Manager) Advance(tree uint8, cp Checkpoint) {
	m.mu.Lock()
	m.points[tree] = cp
	m.mu.Unlock()
	log.Trace(log.CheckpointMonitoring, "checkpoint advanced", "tree", tree, "checkpoint", cp)
}

// Verify re-reads the durable record of tree and compares it with the
// in-memory checkpoint.
func (m *Manager) Verify(tree uint8) error {
	cp, ok := m.Get(tree)
	if !ok {
		return stateerrors.Corruption(int(tree), "no checkpoint in memory")
	}
	meta, ok, err := m.store.Meta(tree)
	if err != nil {
		return stateerrors.New(stateerrors.ErrStorageCorruption, int(tree), nil, err)
	}
	if !ok {
		return stateerrors.Corruption(int(tree), "checkpoint record missing")
	}
	if meta.Root != cp.Root || !meta.Size.Eq(&cp.Size) {
		return stateerrors.Corruption(int(tree), "checkpoint record root=%s size=%s, in memory %s", meta.Root.String_short(), meta.Size.Dec(), cp)
	}
	return nil
}

// Reset forgets every checkpoint.
func (m *Manager) Reset() {
	m.mu.Lock()
	clear(m.points)
	m.mu.Unlock()
}
