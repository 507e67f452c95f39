package merkle

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyRootIsZeroFold(t *testing.T) {
	tree, _ := newTestTree(t, 32, 64)

	h := tree.Hasher()
	want := h.HashLeaf(make([]byte, 64))
	for i := 0; i < 32; i++ {
		want = h.HashNode(want, want)
	}
	assert.Equal(t, want, tree.Root())
	assert.Equal(t, want, tree.EmptyRoot())
	assert.Equal(t, want, EmptyRoot(h, 32, make([]byte, 64)))
	assert.True(t, tree.Size().IsZero())
}

func TestEmptyRootIsReproducible(t *testing.T) {
	a, _ := newTestTree(t, 128, 64)
	b, _ := newTestTree(t, 128, 64)
	assert.Equal(t, a.Root(), b.Root())

	c, _ := newTestTree(t, 32, 64)
	assert.NotEqual(t, a.Root(), c.Root())
}

func TestGetUnwrittenReturnsZeroValue(t *testing.T) {
	tree, _ := newTestTree(t, 32, 64)
	v, err := tree.Get(uint256.NewInt(12345))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), v)
}

func TestCustomZeroValue(t *testing.T) {
	h, err := NewHasher(DomainKeccak)
	require.NoError(t, err)
	zero := leafValue(8, 0xee)
	nodes := newMemNodes()
	tree, err := New(Config{Depth: 4, LeafWidth: 8, ZeroValue: zero, Hasher: h}, nodes, nodes)
	require.NoError(t, err)

	v, err := tree.Get(uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, zero, v)

	leaves := make([][]byte, 16)
	for i := range leaves {
		leaves[i] = zero
	}
	assert.Equal(t, naiveRoot(h, leaves), tree.Root())
}

func TestPutThenGet(t *testing.T) {
	tree, _ := newTestTree(t, 32, 64)
	value := leafValue(64, 0x05)

	root, err := tree.Put(uint256.NewInt(0), value)
	require.NoError(t, err)
	assert.Equal(t, root, tree.Root())
	assert.NotEqual(t, tree.EmptyRoot(), root)
	assert.Equal(t, uint64(1), tree.Size().Uint64())

	got, err := tree.Get(uint256.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestPutCopiesValue(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4)
	value := []byte{1, 2, 3, 4}
	_, err := tree.Put(uint256.NewInt(1), value)
	require.NoError(t, err)
	value[0] = 9

	got, err := tree.Get(uint256.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestPutIsIdempotent(t *testing.T) {
	tree, nodes := newTestTree(t, 32, 64)
	value := leafValue(64, 0x07)

	root1, err := tree.Put(uint256.NewInt(9), value)
	require.NoError(t, err)
	nodeCount := len(nodes.nodes)

	root2, err := tree.Put(uint256.NewInt(9), value)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
	assert.Equal(t, uint64(10), tree.Size().Uint64())
	assert.Equal(t, nodeCount, len(nodes.nodes))
}

func TestSizeTracksHighestIndex(t *testing.T) {
	tree, _ := newTestTree(t, 16, 2)
	for _, tc := range []struct {
		index uint64
		size  uint64
	}{
		{5, 6},
		{2, 6},
		{10, 11},
		{10, 11},
		{0, 11},
	} {
		_, err := tree.Put(uint256.NewInt(tc.index), []byte{0, 0})
		require.NoError(t, err)
		assert.Equal(t, tc.size, tree.Size().Uint64(), "after put %d", tc.index)
	}
}

func TestRootMatchesNaiveRecompute(t *testing.T) {
	const depth = 5
	tree, _ := newTestTree(t, depth, 16)
	leaves := make([][]byte, 1<<depth)
	for i := range leaves {
		leaves[i] = make([]byte, 16)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		idx := rng.Intn(len(leaves))
		v := make([]byte, 16)
		rng.Read(v)
		leaves[idx] = v
		root, err := tree.Put(uint256.NewInt(uint64(idx)), v)
		require.NoError(t, err)
		require.Equal(t, naiveRoot(tree.Hasher(), leaves), root, "step %d", i)
	}
}

func TestOutOfRangeLeavesTreeUntouched(t *testing.T) {
	tree, nodes := newTestTree(t, 8, 4)
	root := tree.Root()

	idx := uint256.NewInt(256)
	_, err := tree.Put(idx, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, stateerrors.ErrOutOfRange)
	_, err = tree.Get(idx)
	require.ErrorIs(t, err, stateerrors.ErrOutOfRange)
	_, err = tree.HashPath(idx)
	require.ErrorIs(t, err, stateerrors.ErrOutOfRange)

	assert.Equal(t, root, tree.Root())
	assert.True(t, tree.Size().IsZero())
	assert.Empty(t, nodes.nodes)

	_, err = tree.Put(uint256.NewInt(255), []byte{1, 2, 3, 4})
	require.NoError(t, err)
}

func TestInvalidLeafWidth(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4)
	_, err := tree.Put(uint256.NewInt(0), []byte{1, 2, 3})
	require.ErrorIs(t, err, stateerrors.ErrInvalidLeaf)
	assert.True(t, tree.Size().IsZero())
}

func TestReadErrorLeavesSinkUntouched(t *testing.T) {
	tree, nodes := newTestTree(t, 8, 4)
	_, err := tree.Put(uint256.NewInt(0), []byte{1, 1, 1, 1})
	require.NoError(t, err)
	before := len(nodes.nodes)
	root := tree.Root()

	boom := errors.New("boom")
	nodes.readErr = boom
	_, err = tree.Put(uint256.NewInt(3), []byte{2, 2, 2, 2})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, len(nodes.nodes))
	assert.Equal(t, root, tree.Root())
	assert.Equal(t, uint64(1), tree.Size().Uint64())
}

func TestDeepTreeIndices(t *testing.T) {
	tree, _ := newTestTree(t, 128, 64)
	idx := new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	idx.AddUint64(idx, 5)
	value := leafValue(64, 0x42)

	root, err := tree.Put(idx, value)
	require.NoError(t, err)

	got, err := tree.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	want := new(uint256.Int).AddUint64(idx, 1)
	assert.True(t, tree.Size().Eq(want))

	path, err := tree.HashPath(idx)
	require.NoError(t, err)
	require.Len(t, path, 128)
	assert.True(t, path.Verify(tree.Hasher(), tree.Depth(), idx, value, root))

	over := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err = tree.Get(over)
	require.ErrorIs(t, err, stateerrors.ErrOutOfRange)
}

func TestRestore(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4)
	empty := tree.Root()
	_, err := tree.Put(uint256.NewInt(4), []byte{1, 2, 3, 4})
	require.NoError(t, err)

	tree.Restore(empty, uint256.NewInt(0))
	assert.Equal(t, empty, tree.Root())
	assert.True(t, tree.Size().IsZero())
}

func TestConfigValidate(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)

	for name, cfg := range map[string]Config{
		"zero depth": {Depth: 0, LeafWidth: 4, Hasher: h},
		"zero width": {Depth: 4, LeafWidth: 0, Hasher: h},
		"zero value": {Depth: 4, LeafWidth: 4, ZeroValue: []byte{1}, Hasher: h},
		"nil hasher": {Depth: 4, LeafWidth: 4},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, cfg.Validate(), stateerrors.ErrInvalidConfig)
		})
	}
}
