package overlay

import (
	"bytes"
	"sort"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/holiman/uint256"
)

// NodeKey addresses one node of a tree: level 0 is the root, level D the
// leaf-hash layer.
type NodeKey struct {
	Level uint8
	Pos   [32]byte
}

// NewNodeKey builds the key for the node at (level, pos).
func NewNodeKey(level uint8, pos *uint256.Int) NodeKey {
	return NodeKey{Level: level, Pos: pos.Bytes32()}
}

// Position returns the node position as an integer.
func (k NodeKey) Position() *uint256.Int {
	return new(uint256.Int).SetBytes32(k.Pos[:])
}

// Overlay holds the uncommitted leaves and nodes of one tree. Reads check
// the overlay before durable storage; commit flushes it, rollback drops it.
// Overlay is not safe for concurrent use.
type Overlay struct {
	leaves map[[32]byte][]byte
	nodes  map[NodeKey]common.Hash
}

// New creates an empty overlay.
func New() *Overlay {
	return &Overlay{
		leaves: make(map[[32]byte][]byte),
		nodes:  make(map[NodeKey]common.Hash),
	}
}

// SetLeaf records a pending leaf value. The slice is kept as is.
func (o *Overlay) SetLeaf(index *uint256.Int, value []byte) {
	o.leaves[index.Bytes32()] = value
}

// SetNode records a pending node hash.
func (o *Overlay) SetNode(level uint8, pos *uint256.Int, h common.Hash) {
	o.nodes[NewNodeKey(level, pos)] = h
}

// Leaf returns the pending value at index, if any.
func (o *Overlay) Leaf(index *uint256.Int) ([]byte, bool) {
	v, ok := o.leaves[index.Bytes32()]
	return v, ok
}

// Node returns the pending hash at (level, pos), if any.
func (o *Overlay) Node(level uint8, pos *uint256.Int) (common.Hash, bool) {
	h, ok := o.nodes[NewNodeKey(level, pos)]
	return h, ok
}

// LeafCount returns the number of pending leaves.
func (o *Overlay) LeafCount() int { return len(o.leaves) }

// NodeCount returns the number of pending nodes.
func (o *Overlay) NodeCount() int { return len(o.nodes) }

// IsEmpty returns true if nothing is pending.
func (o *Overlay) IsEmpty() bool {
	return len(o.leaves) == 0 && len(o.nodes) == 0
}

// Reset drops every pending entry.
func (o *Overlay) Reset() {
	clear(o.leaves)
	clear(o.nodes)
}

// ForEachLeaf visits pending leaves in ascending index order so batches
// are built deterministically.
func (o *Overlay) ForEachLeaf(fn func(index *uint256.Int, value []byte) error) error {
	keys := make([][32]byte, 0, len(o.leaves))
	for k := range o.leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	for _, k := range keys {
		if err := fn(new(uint256.Int).SetBytes32(k[:]), o.leaves[k]); err != nil {
			return err
		}
	}
	return nil
}

// ForEachNode visits pending nodes ordered by level, then position.
func (o *Overlay) ForEachNode(fn func(level uint8, pos *uint256.Int, h common.Hash) error) error {
	keys := make([]NodeKey, 0, len(o.nodes))
	for k := range o.nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Level != keys[j].Level {
			return keys[i].Level < keys[j].Level
		}
		return bytes.Compare(keys[i].Pos[:], keys[j].Pos[:]) < 0
	})
	for _, k := range keys {
		if err := fn(k.Level, k.Position(), o.nodes[k]); err != nil {
			return err
		}
	}
	return nil
}
