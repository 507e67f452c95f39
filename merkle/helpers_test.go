package merkle

import (
	"testing"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/holiman/uint256"
)

type nodeKey struct {
	level uint8
	pos   [32]byte
}

// memNodes is a NodeSource and NodeSink over plain maps.
type memNodes struct {
	leaves  map[[32]byte][]byte
	nodes   map[nodeKey]common.Hash
	readErr error
}

func newMemNodes() *memNodes {
	return &memNodes{
		leaves: make(map[[32]byte][]byte),
		nodes:  make(map[nodeKey]common.Hash),
	}
}

func (m *memNodes) Leaf(index *uint256.Int) ([]byte, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.leaves[index.Bytes32()]
	return v, ok, nil
}

func (m *memNodes) Node(level uint8, pos *uint256.Int) (common.Hash, bool, error) {
	if m.readErr != nil {
		return common.Hash{}, false, m.readErr
	}
	h, ok := m.nodes[nodeKey{level, pos.Bytes32()}]
	return h, ok, nil
}

func (m *memNodes) SetLeaf(index *uint256.Int, value []byte) {
	m.leaves[index.Bytes32()] = value
}

func (m *memNodes) SetNode(level uint8, pos *uint256.Int, h common.Hash) {
	m.nodes[nodeKey{level, pos.Bytes32()}] = h
}

func newTestTree(t testing.TB, depth uint8, width int) (*Tree, *memNodes) {
	t.Helper()
	h, err := NewHasher(DomainBlake2b)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	nodes := newMemNodes()
	tree, err := New(Config{ID: 0, Depth: depth, LeafWidth: width, Hasher: h}, nodes, nodes)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tree, nodes
}

func leafValue(width int, b byte) []byte {
	v := make([]byte, width)
	for i := range v {
		v[i] = b
	}
	return v
}

// naiveRoot hashes a fully materialised leaf layer bottom-up.
func naiveRoot(h Hasher, leaves [][]byte) common.Hash {
	layer := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		layer[i] = h.HashLeaf(l)
	}
	for len(layer) > 1 {
		next := make([]common.Hash, len(layer)/2)
		for i := range next {
			next[i] = h.HashNode(layer[2*i], layer[2*i+1])
		}
		layer = next
	}
	return layer[0]
}
