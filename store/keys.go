package store

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/holiman/uint256"
)

// Key layout. Tree ids occupy one byte, indices and positions 32 bytes
// big-endian, so keys of one tree sort by level and then position.
//
//	c | tree                    -> Spec
//	m | tree                    -> Meta (root | size)
//	l | tree | index            -> leaf value
//	n | tree | level | position -> node hash
const (
	prefixSpec = 'c'
	prefixMeta = 'm'
	prefixLeaf = 'l'
	prefixNode = 'n'
)

// MaxTrees is the number of tree ids a key can address.
const MaxTrees = 256

func specKey(tree uint8) []byte {
	return []byte{prefixSpec, tree}
}

func metaKey(tree uint8) []byte {
	return []byte{prefixMeta, tree}
}

func leafKey(tree uint8, index *uint256.Int) []byte {
	k := make([]byte, 2, 34)
	k[0], k[1] = prefixLeaf, tree
	b := index.Bytes32()
	return append(k, b[:]...)
}

func nodeKey(tree, level uint8, pos *uint256.Int) []byte {
	k := make([]byte, 3, 35)
	k[0], k[1], k[2] = prefixNode, tree, level
	b := pos.Bytes32()
	return append(k, b[:]...)
}

// Meta is the committed root and size of one tree. It is the durable
// checkpoint restored on startup.
type Meta struct {
	Root common.Hash
	Size uint256.Int
}

const metaLen = 64

func (m Meta) encode() []byte {
	out := make([]byte, metaLen)
	copy(out[:32], m.Root[:])
	size := m.Size.Bytes32()
	copy(out[32:], size[:])
	return out
}

func decodeMeta(tree uint8, data []byte) (Meta, error) {
	if len(data) != metaLen {
		return Meta{}, stateerrors.Corruption(int(tree), "meta record is %d bytes, want %d", len(data), metaLen)
	}
	var m Meta
	copy(m.Root[:], data[:32])
	m.Size.SetBytes32(data[32:])
	return m, nil
}

// Spec is the persisted shape of a tree, checked against the configuration
// on every open.
type Spec struct {
	Depth     uint8
	LeafWidth uint16
	Domain    string
	// ZeroLeaf is the hash of the zero value under Domain.
	ZeroLeaf common.Hash
}

func (s Spec) String() string {
	return fmt.Sprintf("depth=%d width=%d domain=%s zero=%s", s.Depth, s.LeafWidth, s.Domain, s.ZeroLeaf.String_short())
}

// depth(1) | width(2) | len(domain)(1) | domain | zeroLeaf(32)
func (s Spec) encode() []byte {
	out := make([]byte, 0, 4+len(s.Domain)+32)
	out = append(out, s.Depth)
	out = binary.BigEndian.AppendUint16(out, s.LeafWidth)
	out = append(out, byte(len(s.Domain)))
	out = append(out, s.Domain...)
	return append(out, s.ZeroLeaf[:]...)
}

func decodeSpec(tree uint8, data []byte) (Spec, error) {
	if len(data) < 4 {
		return Spec{}, stateerrors.Corruption(int(tree), "spec record is %d bytes", len(data))
	}
	n := int(data[3])
	if len(data) != 4+n+32 {
		return Spec{}, stateerrors.Corruption(int(tree), "spec record is %d bytes, want %d", len(data), 4+n+32)
	}
	s := Spec{
		Depth:     data[0],
		LeafWidth: binary.BigEndian.Uint16(data[1:3]),
		Domain:    string(data[4 : 4+n]),
	}
	copy(s.ZeroLeaf[:], data[4+n:])
	return s, nil
}
