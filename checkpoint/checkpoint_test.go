package checkpoint

import (
	"testing"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	emptyRoot = common.Blake2Hash([]byte("empty"))
	shape     = Shape{Depth: 8, EmptyRoot: emptyRoot}
)

func newTestManager(t *testing.T) (*Manager, *store.LeafStore) {
	t.Helper()
	db, err := store.NewMemoryLevelDB()
	require.NoError(t, err)
	s, err := store.NewLeafStore(db, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s), s
}

func commit(t *testing.T, m *Manager, s *store.LeafStore, tree uint8, cp Checkpoint, withRootNode bool) {
	t.Helper()
	b := s.NewBatch()
	if withRootNode {
		b.PutNode(tree, 0, uint256.NewInt(0), cp.Root)
	}
	m.Stage(b, tree, cp)
	require.NoError(t, b.Write())
	m.Advance(tree, cp)
}

func TestLoadEmptyCheckpoint(t *testing.T) {
	m, s := newTestManager(t)
	commit(t, m, s, 0, New(emptyRoot, uint256.NewInt(0)), false)
	m.Reset()

	cp, err := m.Load(0, shape)
	require.NoError(t, err)
	assert.Equal(t, emptyRoot, cp.Root)
	assert.True(t, cp.Size.IsZero())

	got, ok := m.Get(0)
	require.True(t, ok)
	assert.Equal(t, cp, got)
}

func TestLoadChecksRootNode(t *testing.T) {
	m, s := newTestManager(t)
	root := common.Blake2Hash([]byte("root"))
	commit(t, m, s, 1, New(root, uint256.NewInt(3)), true)

	cp, err := m.Load(1, shape)
	require.NoError(t, err)
	assert.Equal(t, root, cp.Root)
	assert.Equal(t, uint64(3), cp.Size.Uint64())

	// A meta record whose root node was never written is corrupt.
	commit(t, m, s, 2, New(root, uint256.NewInt(3)), false)
	_, err = m.Load(2, shape)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)
}

func TestLoadRejectsBadRecords(t *testing.T) {
	m, s := newTestManager(t)

	_, err := m.Load(0, shape)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)

	commit(t, m, s, 0, New(common.Hash{9}, uint256.NewInt(0)), false)
	_, err = m.Load(0, shape)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption, "empty tree with non-empty root")

	root := common.Hash{5}
	commit(t, m, s, 1, New(root, uint256.NewInt(257)), true)
	_, err = m.Load(1, shape)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption, "size beyond 2^depth")

	commit(t, m, s, 1, New(root, uint256.NewInt(256)), true)
	_, err = m.Load(1, shape)
	require.NoError(t, err, "a full tree is valid")
}

func TestVerifyDetectsDrift(t *testing.T) {
	m, s := newTestManager(t)
	root := common.Hash{1}
	commit(t, m, s, 0, New(root, uint256.NewInt(1)), true)
	require.NoError(t, m.Verify(0))

	// Durable record moves without the in-memory checkpoint.
	b := s.NewBatch()
	b.PutMeta(0, store.Meta{Root: common.Hash{2}})
	require.NoError(t, b.Write())
	require.ErrorIs(t, m.Verify(0), stateerrors.ErrStorageCorruption)

	require.ErrorIs(t, m.Verify(7), stateerrors.ErrStorageCorruption)
}

func TestNewCopiesSize(t *testing.T) {
	size := uint256.NewInt(4)
	cp := New(common.Hash{}, size)
	size.SetUint64(99)
	assert.Equal(t, uint64(4), cp.Size.Uint64())
}
