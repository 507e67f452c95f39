package store

import (
	"testing"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeafStore(t *testing.T) (*LeafStore, *Faulty) {
	t.Helper()
	db, err := NewMemoryLevelDB()
	require.NoError(t, err)
	f := NewFaulty(db)
	s, err := NewLeafStore(f, 128)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, f
}

func TestLeafStoreRoundTrip(t *testing.T) {
	s, _ := newTestLeafStore(t)

	idx := new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	spec := Spec{Depth: 128, LeafWidth: 64, Domain: "blake2b", ZeroLeaf: common.Blake2Hash([]byte("z"))}
	meta := Meta{Root: common.Blake2Hash([]byte("root"))}
	meta.Size.SetUint64(1000)

	b := s.NewBatch()
	b.PutSpec(1, spec)
	b.PutMeta(1, meta)
	b.PutLeaf(1, idx, []byte("leaf"))
	b.PutNode(1, 128, idx, common.Blake2Hash([]byte("leaf")))
	assert.Equal(t, 4, b.Len())
	require.NoError(t, b.Write())

	gotSpec, ok, err := s.Spec(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spec, gotSpec)

	gotMeta, ok, err := s.Meta(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, meta.Root, gotMeta.Root)
	assert.Equal(t, uint64(1000), gotMeta.Size.Uint64())

	v, ok, err := s.Leaf(1, idx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("leaf"), v)

	h, ok, err := s.Node(1, 128, idx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, common.Blake2Hash([]byte("leaf")), h)
}

func TestLeafStoreTreesAreDisjoint(t *testing.T) {
	s, _ := newTestLeafStore(t)
	b := s.NewBatch()
	b.PutLeaf(0, uint256.NewInt(5), []byte("data"))
	b.PutNode(0, 3, uint256.NewInt(5), common.Hash{1})
	require.NoError(t, b.Write())

	_, ok, err := s.Leaf(1, uint256.NewInt(5), 4)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Node(1, 3, uint256.NewInt(5))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Node(0, 2, uint256.NewInt(5))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeCacheOnlySeesCommittedWrites(t *testing.T) {
	s, f := newTestLeafStore(t)
	pos := uint256.NewInt(9)

	// Cache the absence.
	_, ok, err := s.Node(2, 4, pos)
	require.NoError(t, err)
	require.False(t, ok)

	f.SetWriteError(assert.AnError)
	b := s.NewBatch()
	b.PutNode(2, 4, pos, common.Hash{7})
	require.Error(t, b.Write())
	_, ok, err = s.Node(2, 4, pos)
	require.NoError(t, err)
	assert.False(t, ok, "failed write must not reach the cache")

	f.SetWriteError(nil)
	require.NoError(t, b.Write())
	h, ok, err := s.Node(2, 4, pos)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, common.Hash{7}, h)

	// Served from cache while reads fail.
	f.SetReadError(assert.AnError)
	h, ok, err = s.Node(2, 4, pos)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, common.Hash{7}, h)
}

func TestLeafStoreWipe(t *testing.T) {
	s, _ := newTestLeafStore(t)
	b := s.NewBatch()
	b.PutNode(0, 1, uint256.NewInt(0), common.Hash{3})
	b.PutMeta(0, Meta{Root: common.Hash{3}})
	require.NoError(t, b.Write())

	require.NoError(t, s.Wipe())
	_, ok, err := s.Node(0, 1, uint256.NewInt(0))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Meta(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptRecordsAreReported(t *testing.T) {
	s, f := newTestLeafStore(t)
	b := f.NewBatch()
	b.Put(metaKey(3), []byte("short"))
	b.Put(specKey(3), []byte{1, 0, 64, 9, 'x'})
	b.Put(nodeKey(3, 1, uint256.NewInt(0)), []byte{1, 2, 3})
	b.Put(leafKey(3, uint256.NewInt(9)), make([]byte, 63))
	require.NoError(t, b.Write())

	_, _, err := s.Meta(3)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)
	_, _, err = s.Spec(3)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)
	_, _, err = s.Node(3, 1, uint256.NewInt(0))
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)
	_, _, err = s.Leaf(3, uint256.NewInt(9), 64)
	require.ErrorIs(t, err, stateerrors.ErrStorageCorruption)
}

func TestKeyLayoutOrdersNodesByLevel(t *testing.T) {
	a := nodeKey(0, 1, new(uint256.Int).SetAllOne())
	b := nodeKey(0, 2, uint256.NewInt(0))
	assert.Less(t, string(a), string(b))
	assert.Len(t, leafKey(0, uint256.NewInt(1)), 34)
	assert.Len(t, nodeKey(0, 0, uint256.NewInt(1)), 35)
}
