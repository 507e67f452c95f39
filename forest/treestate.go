package forest

import (
	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/colorfulnotion/worldstate/overlay"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
)

// treeState joins one Merkle tree with its overlay and the committed
// store. Reads check the overlay first; writes only reach the overlay.
type treeState struct {
	id      TreeID
	cfg     TreeConfig
	tree    *merkle.Tree
	pending *overlay.Overlay
	store   *store.LeafStore
}

func newTreeState(id TreeID, cfg TreeConfig, mcfg merkle.Config, s *store.LeafStore) (*treeState, error) {
	ts := &treeState{
		id:      id,
		cfg:     cfg,
		pending: overlay.New(),
		store:   s,
	}
	tree, err := merkle.New(mcfg, ts, ts)
	if err != nil {
		return nil, err
	}
	ts.tree = tree
	return ts, nil
}

func (ts *treeState) Leaf(index *uint256.Int) ([]byte, bool, error) {
	if v, ok := ts.pending.Leaf(index); ok {
		return v, true, nil
	}
	return ts.store.Leaf(uint8(ts.id), index, ts.cfg.LeafWidth)
}

func (ts *treeState) Node(level uint8, pos *uint256.Int) (common.Hash, bool, error) {
	if h, ok := ts.pending.Node(level, pos); ok {
		return h, true, nil
	}
	return ts.store.Node(uint8(ts.id), level, pos)
}

func (ts *treeState) SetLeaf(index *uint256.Int, value []byte) {
	ts.pending.SetLeaf(index, value)
}

func (ts *treeState) SetNode(level uint8, pos *uint256.Int, h common.Hash) {
	ts.pending.SetNode(level, pos, h)
}

func (ts *treeState) dirty() bool {
	return !ts.pending.IsEmpty()
}

// stage copies the overlay into b.
func (ts *treeState) stage(b *store.WriteBatch) error {
	id := uint8(ts.id)
	if err := ts.pending.ForEachLeaf(func(index *uint256.Int, value []byte) error {
		b.PutLeaf(id, index, value)
		return nil
	}); err != nil {
		return err
	}
	return ts.pending.ForEachNode(func(level uint8, pos *uint256.Int, h common.Hash) error {
		b.PutNode(id, level, pos, h)
		return nil
	})
}
