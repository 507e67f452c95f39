package merkle

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/holiman/uint256"
)

// MaxDepth bounds the depth so that levels fit in a byte.
const MaxDepth = 255

var one = uint256.NewInt(1)

// NodeSource reads leaves and node hashes. Absent entries are reported with
// ok == false; the tree substitutes the zero value or zero-subtree hash.
type NodeSource interface {
	Leaf(index *uint256.Int) (value []byte, ok bool, err error)
	Node(level uint8, pos *uint256.Int) (h common.Hash, ok bool, err error)
}

// NodeSink receives the leaves and node hashes produced by Put.
type NodeSink interface {
	SetLeaf(index *uint256.Int, value []byte)
	SetNode(level uint8, pos *uint256.Int, h common.Hash)
}

// Config fixes the shape of one tree.
type Config struct {
	// ID is only used to label errors.
	ID        int
	Depth     uint8
	LeafWidth int
	// ZeroValue is the implicit value of an unset leaf. Nil means LeafWidth
	// zero bytes.
	ZeroValue []byte
	Hasher    Hasher
}

// Validate reports a config the tree cannot be built from.
func (c Config) Validate() error {
	if c.Depth == 0 {
		return fmt.Errorf("%w: depth must be at least 1", stateerrors.ErrInvalidConfig)
	}
	if c.LeafWidth <= 0 {
		return fmt.Errorf("%w: leaf width must be positive", stateerrors.ErrInvalidConfig)
	}
	if c.ZeroValue != nil && len(c.ZeroValue) != c.LeafWidth {
		return fmt.Errorf("%w: zero value is %d bytes, leaf width is %d", stateerrors.ErrInvalidConfig, len(c.ZeroValue), c.LeafWidth)
	}
	if c.Hasher == nil {
		return fmt.Errorf("%w: no hasher", stateerrors.ErrInvalidConfig)
	}
	return nil
}

// Tree is a fixed-depth binary Merkle tree over a dense index space. It
// keeps root and size cached; node storage lives behind src and sink.
// Tree is not safe for concurrent use.
type Tree struct {
	cfg   Config
	zero  []byte
	zeros []common.Hash
	src   NodeSource
	sink  NodeSink

	root common.Hash
	size uint256.Int
}

// New builds an empty tree.
func New(cfg Config, src NodeSource, sink NodeSink) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zero := cfg.ZeroValue
	if zero == nil {
		zero = make([]byte, cfg.LeafWidth)
	}
	zero = common.CopyBytes(zero)
	t := &Tree{
		cfg:   cfg,
		zero:  zero,
		zeros: zeroHashes(cfg.Hasher, cfg.Depth, zero),
		src:   src,
		sink:  sink,
	}
	t.root = t.zeros[0]
	return t, nil
}

func (t *Tree) Depth() uint8 { return t.cfg.Depth }

func (t *Tree) LeafWidth() int { return t.cfg.LeafWidth }

func (t *Tree) Hasher() Hasher { return t.cfg.Hasher }

// Root is O(1): it is maintained by Put and Restore.
func (t *Tree) Root() common.Hash { return t.root }

// Size is one past the highest index ever written.
func (t *Tree) Size() *uint256.Int {
	return new(uint256.Int).Set(&t.size)
}

// ZeroValue returns a copy of the implicit unset-leaf value.
func (t *Tree) ZeroValue() []byte {
	return common.CopyBytes(t.zero)
}

// EmptyRoot is the root before any write.
func (t *Tree) EmptyRoot() common.Hash {
	return t.zeros[0]
}

// ZeroHash returns the hash of an unwritten subtree rooted at level.
func (t *Tree) ZeroHash(level uint8) common.Hash {
	return t.zeros[level]
}

// Restore resets the cached root and size, e.g. to a checkpoint.
func (t *Tree) Restore(root common.Hash, size *uint256.Int) {
	t.root = root
	t.size.Set(size)
}

// InRange reports whether index < 2^depth.
func (t *Tree) InRange(index *uint256.Int) bool {
	return index.BitLen() <= int(t.cfg.Depth)
}

func (t *Tree) checkIndex(index *uint256.Int) error {
	if index == nil || !t.InRange(index) {
		return stateerrors.OutOfRange(t.cfg.ID, index, t.cfg.Depth)
	}
	return nil
}

// Get returns the value at index, or the zero value if it was never written.
func (t *Tree) Get(index *uint256.Int) ([]byte, error) {
	if err := t.checkIndex(index); err != nil {
		return nil, err
	}
	v, ok, err := t.src.Leaf(index)
	if err != nil {
		return nil, fmt.Errorf("read leaf %s: %w", index.Dec(), err)
	}
	if !ok {
		return t.ZeroValue(), nil
	}
	return common.CopyBytes(v), nil
}

type nodeUpdate struct {
	level uint8
	pos   *uint256.Int
	hash  common.Hash
}

// Put writes value at index and rehashes the path to the root. Every sibling
// is read before anything reaches the sink, so a failed read leaves the tree
// untouched.
func (t *Tree) Put(index *uint256.Int, value []byte) (common.Hash, error) {
	if err := t.checkIndex(index); err != nil {
		return common.Hash{}, err
	}
	if len(value) != t.cfg.LeafWidth {
		return common.Hash{}, stateerrors.InvalidLeaf(t.cfg.ID, index, len(value), t.cfg.LeafWidth)
	}

	if index.Lt(&t.size) {
		cur, ok, err := t.src.Leaf(index)
		if err != nil {
			return common.Hash{}, fmt.Errorf("read leaf %s: %w", index.Dec(), err)
		}
		if ok && bytes.Equal(cur, value) {
			return t.root, nil
		}
	}

	updates := make([]nodeUpdate, 0, int(t.cfg.Depth)+1)
	h := t.cfg.Hasher.HashLeaf(value)
	pos := new(uint256.Int).Set(index)
	for level := t.cfg.Depth; level > 0; level-- {
		updates = append(updates, nodeUpdate{level, new(uint256.Int).Set(pos), h})
		sib, err := t.node(level, new(uint256.Int).Xor(pos, one))
		if err != nil {
			return common.Hash{}, err
		}
		if isRight(pos) {
			h = t.cfg.Hasher.HashNode(sib, h)
		} else {
			h = t.cfg.Hasher.HashNode(h, sib)
		}
		pos.Rsh(pos, 1)
	}
	updates = append(updates, nodeUpdate{0, new(uint256.Int), h})

	t.sink.SetLeaf(index, common.CopyBytes(value))
	for _, u := range updates {
		t.sink.SetNode(u.level, u.pos, u.hash)
	}
	t.root = h
	if !index.Lt(&t.size) {
		t.size.AddUint64(index, 1)
	}
	return t.root, nil
}

// HashPath returns the sibling pairs from the leaf layer to the root.
// Unwritten indices get a valid path against the zero value.
func (t *Tree) HashPath(index *uint256.Int) (HashPath, error) {
	if err := t.checkIndex(index); err != nil {
		return nil, err
	}
	path := make(HashPath, 0, t.cfg.Depth)
	pos := new(uint256.Int).Set(index)
	for level := t.cfg.Depth; level > 0; level-- {
		left := new(uint256.Int).Rsh(pos, 1)
		left.Lsh(left, 1)
		right := new(uint256.Int).Or(left, one)
		l, err := t.node(level, left)
		if err != nil {
			return nil, err
		}
		r, err := t.node(level, right)
		if err != nil {
			return nil, err
		}
		path = append(path, Pair{Left: l, Right: r})
		pos.Rsh(pos, 1)
	}
	return path, nil
}

func (t *Tree) node(level uint8, pos *uint256.Int) (common.Hash, error) {
	h, ok, err := t.src.Node(level, pos)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read node level=%d pos=%s: %w", level, pos.Dec(), err)
	}
	if !ok {
		return t.zeros[level], nil
	}
	return h, nil
}

func isRight(pos *uint256.Int) bool {
	return pos.Uint64()&1 == 1
}
