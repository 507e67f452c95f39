package forest

import (
	"context"
	"testing"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func memoryOptions() Options {
	return Options{Backend: store.BackendMemory, Trees: RollupTrees()}
}

func openForest(t *testing.T, opts Options) *Forest {
	t.Helper()
	f, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.Stop() })
	return f
}

func leaf(b byte) []byte {
	v := make([]byte, 64)
	for i := range v {
		v[i] = b
	}
	return v
}

func idx(i uint64) *uint256.Int {
	return uint256.NewInt(i)
}

// foldLeft recomputes the root of a tree whose only non-zero leaf is at
// index 0.
func foldLeft(h merkle.Hasher, depth int, value []byte) common.Hash {
	zero := h.HashLeaf(make([]byte, len(value)))
	cur := h.HashLeaf(value)
	for i := 0; i < depth; i++ {
		cur = h.HashNode(cur, zero)
		zero = h.HashNode(zero, zero)
	}
	return cur
}

func emptyFold(h merkle.Hasher, depth int, width int) common.Hash {
	cur := h.HashLeaf(make([]byte, width))
	for i := 0; i < depth; i++ {
		cur = h.HashNode(cur, cur)
	}
	return cur
}

type snapshot struct {
	roots []common.Hash
	sizes []uint64
}

func takeSnapshot(t *testing.T, f *Forest) snapshot {
	t.Helper()
	ctx := context.Background()
	var s snapshot
	for i := range f.Trees() {
		root, err := f.GetRoot(ctx, TreeID(i))
		require.NoError(t, err)
		size, err := f.GetSize(ctx, TreeID(i))
		require.NoError(t, err)
		s.roots = append(s.roots, root)
		s.sizes = append(s.sizes, size.Uint64())
	}
	return s
}
