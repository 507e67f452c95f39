package merkle

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/prysmaticlabs/gohashtree"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Hash domains a tree may be configured with.
const (
	DomainBlake2b = "blake2b"
	DomainKeccak  = "keccak"
	DomainSHA256  = "sha256"
)

var (
	leafPrefix = []byte("leaf")
	nodePrefix = []byte("node")
)

// Hasher is the compression function shared by every node of one tree.
type Hasher interface {
	// Domain names the hash construction; it is persisted with the tree.
	Domain() string
	// HashLeaf maps a leaf value to the leaf-layer node hash.
	HashLeaf(value []byte) common.Hash
	// HashNode combines two children into their parent.
	HashNode(left, right common.Hash) common.Hash
}

// NewHasher returns the Hasher for a domain name. The empty name selects
// blake2b.
func NewHasher(domain string) (Hasher, error) {
	switch domain {
	case "", DomainBlake2b:
		return prefixedHasher{domain: DomainBlake2b, newHash: newBlake2b}, nil
	case DomainKeccak:
		return prefixedHasher{domain: DomainKeccak, newHash: sha3.NewLegacyKeccak256}, nil
	case DomainSHA256:
		return sha256Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash domain %q", domain)
	}
}

func newBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// prefixedHasher separates leaves from nodes with "leaf"/"node" prefixes.
type prefixedHasher struct {
	domain  string
	newHash func() hash.Hash
}

func (p prefixedHasher) Domain() string { return p.domain }

func (p prefixedHasher) HashLeaf(value []byte) common.Hash {
	h := p.newHash()
	h.Write(leafPrefix)
	h.Write(value)
	return common.BytesToHash(h.Sum(nil))
}

func (p prefixedHasher) HashNode(left, right common.Hash) common.Hash {
	h := p.newHash()
	h.Write(nodePrefix)
	h.Write(left[:])
	h.Write(right[:])
	return common.BytesToHash(h.Sum(nil))
}

// sha256Hasher tags leaves and nodes with one prefix byte. Leaf values are
// first reduced to a single chunk root with gohashtree, so a leaf hash is
// sha256(0x00 || chunkRoot(value)) and a node hash is sha256(0x01 || l || r).
type sha256Hasher struct{}

const (
	sha256LeafPrefix byte = 0
	sha256NodePrefix byte = 1
)

func (sha256Hasher) Domain() string { return DomainSHA256 }

func (sha256Hasher) HashNode(left, right common.Hash) common.Hash {
	var buf [1 + 2*common.HashLength]byte
	buf[0] = sha256NodePrefix
	copy(buf[1:], left[:])
	copy(buf[1+common.HashLength:], right[:])
	return common.Hash(sha256.Sum256(buf[:]))
}

func (sha256Hasher) HashLeaf(value []byte) common.Hash {
	root := chunkRoot(value)
	var buf [1 + common.HashLength]byte
	buf[0] = sha256LeafPrefix
	copy(buf[1:], root[:])
	return common.Hash(sha256.Sum256(buf[:]))
}

// chunkRoot splits value into 32-byte chunks, padded to a 64-byte multiple,
// and merkleizes them pairwise.
func chunkRoot(value []byte) [32]byte {
	padded := common.PadToMultipleOfN(value, 64)
	if len(padded) == 0 {
		padded = make([]byte, 64)
	}
	chunks := make([][32]byte, len(padded)/32)
	for i := range chunks {
		copy(chunks[i][:], padded[i*32:])
	}
	for len(chunks) > 1 {
		if len(chunks)%2 == 1 {
			chunks = append(chunks, [32]byte{})
		}
		digests := make([][32]byte, len(chunks)/2)
		if err := gohashtree.Hash(digests, chunks); err != nil {
			panic(err) // even chunk count, half as many digests
		}
		chunks = digests
	}
	return chunks[0]
}
