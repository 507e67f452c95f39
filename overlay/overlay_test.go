package overlay

import (
	"errors"
	"testing"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlaySetAndLookup(t *testing.T) {
	o := New()
	require.True(t, o.IsEmpty())

	idx := uint256.NewInt(42)
	o.SetLeaf(idx, []byte("value"))
	v, ok := o.Leaf(uint256.NewInt(42))
	require.True(t, ok)
	assert.Equal(t, []byte("value"), v)

	_, ok = o.Leaf(uint256.NewInt(43))
	assert.False(t, ok)

	h := common.Blake2Hash([]byte("n"))
	o.SetNode(3, uint256.NewInt(5), h)
	got, ok := o.Node(3, uint256.NewInt(5))
	require.True(t, ok)
	assert.Equal(t, h, got)

	// Same position on another level is a different node.
	_, ok = o.Node(4, uint256.NewInt(5))
	assert.False(t, ok)

	assert.Equal(t, 1, o.LeafCount())
	assert.Equal(t, 1, o.NodeCount())
	assert.False(t, o.IsEmpty())
}

func TestOverlayOverwrite(t *testing.T) {
	o := New()
	o.SetLeaf(uint256.NewInt(1), []byte("a"))
	o.SetLeaf(uint256.NewInt(1), []byte("b"))
	v, _ := o.Leaf(uint256.NewInt(1))
	assert.Equal(t, []byte("b"), v)
	assert.Equal(t, 1, o.LeafCount())
}

func TestOverlayReset(t *testing.T) {
	o := New()
	o.SetLeaf(uint256.NewInt(1), []byte("a"))
	o.SetNode(0, uint256.NewInt(0), common.Hash{1})
	o.Reset()

	assert.True(t, o.IsEmpty())
	_, ok := o.Leaf(uint256.NewInt(1))
	assert.False(t, ok)
}

func TestOverlayIterationOrder(t *testing.T) {
	o := New()
	big := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	for _, i := range []*uint256.Int{big, uint256.NewInt(7), uint256.NewInt(0), uint256.NewInt(300)} {
		o.SetLeaf(i, []byte{byte(i.Uint64())})
	}
	var seen []string
	require.NoError(t, o.ForEachLeaf(func(index *uint256.Int, _ []byte) error {
		seen = append(seen, index.Dec())
		return nil
	}))
	assert.Equal(t, []string{"0", "7", "300", big.Dec()}, seen)

	o.SetNode(2, uint256.NewInt(1), common.Hash{})
	o.SetNode(1, uint256.NewInt(1), common.Hash{})
	o.SetNode(2, uint256.NewInt(0), common.Hash{})
	var nodes []NodeKey
	require.NoError(t, o.ForEachNode(func(level uint8, pos *uint256.Int, _ common.Hash) error {
		nodes = append(nodes, NewNodeKey(level, pos))
		return nil
	}))
	assert.Equal(t, []NodeKey{
		NewNodeKey(1, uint256.NewInt(1)),
		NewNodeKey(2, uint256.NewInt(0)),
		NewNodeKey(2, uint256.NewInt(1)),
	}, nodes)
}

func TestOverlayIterationStopsOnError(t *testing.T) {
	o := New()
	o.SetLeaf(uint256.NewInt(1), nil)
	o.SetLeaf(uint256.NewInt(2), nil)
	stop := errors.New("stop")
	calls := 0
	err := o.ForEachLeaf(func(*uint256.Int, []byte) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestNodeKeyPosition(t *testing.T) {
	pos := new(uint256.Int).Lsh(uint256.NewInt(3), 120)
	k := NewNodeKey(9, pos)
	assert.True(t, k.Position().Eq(pos))
}
