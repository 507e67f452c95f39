package merkle

import "github.com/colorfulnotion/worldstate/common"

// zeroHashes returns, for every level of a depth-D tree, the hash of a
// subtree whose leaves are all zeroLeaf. Index 0 is the root level, index
// D the leaf layer.
func zeroHashes(h Hasher, depth uint8, zeroLeaf []byte) []common.Hash {
	zs := make([]common.Hash, int(depth)+1)
	zs[depth] = h.HashLeaf(zeroLeaf)
	for l := int(depth) - 1; l >= 0; l-- {
		zs[l] = h.HashNode(zs[l+1], zs[l+1])
	}
	return zs
}

// EmptyRoot is the root of a tree in which no leaf was ever written.
func EmptyRoot(h Hasher, depth uint8, zeroLeaf []byte) common.Hash {
	return zeroHashes(h, depth, zeroLeaf)[0]
}
