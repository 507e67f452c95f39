package merkle

import (
	"github.com/colorfulnotion/worldstate/common"
	"github.com/holiman/uint256"
)

// Pair is the two children of one node on a leaf's path to the root.
type Pair struct {
	Left  common.Hash `json:"left"`
	Right common.Hash `json:"right"`
}

// HashPath holds one Pair per level, ordered from the leaf layer up to the
// children of the root. Its length always equals the tree depth.
type HashPath []Pair

// Root recomputes the root from the topmost pair.
func (p HashPath) Root(h Hasher) common.Hash {
	if len(p) == 0 {
		return common.Hash{}
	}
	top := p[len(p)-1]
	return h.HashNode(top.Left, top.Right)
}

// Verify checks that value sits at index under root in a tree of the given
// depth. A path must carry exactly depth pairs. Every level is checked
// against the side selected by the index bit, so a path for a different
// index does not verify.
func (p HashPath) Verify(h Hasher, depth uint8, index *uint256.Int, value []byte, root common.Hash) bool {
	if depth == 0 || len(p) != int(depth) || index.BitLen() > len(p) {
		return false
	}
	cur := h.HashLeaf(value)
	pos := new(uint256.Int).Set(index)
	for _, pair := range p {
		if isRight(pos) {
			if pair.Right != cur {
				return false
			}
		} else if pair.Left != cur {
			return false
		}
		cur = h.HashNode(pair.Left, pair.Right)
		pos.Rsh(pos, 1)
	}
	return cur == root
}
