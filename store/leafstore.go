package store

import (
	"fmt"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/stateerrors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

// DefaultNodeCacheSize is the number of node lookups kept in memory.
const DefaultNodeCacheSize = 1 << 16

type cacheKey struct {
	tree  uint8
	level uint8
	pos   [32]byte
}

// cachedNode remembers absent nodes too, so repeated zero-subtree lookups
// stay off disk.
type cachedNode struct {
	hash common.Hash
	ok   bool
}

// LeafStore is the typed, durable view of the forest: specs, checkpoints,
// leaves and node hashes of every tree in one Database. The node cache only
// ever holds committed state.
type LeafStore struct {
	db    Database
	nodes *lru.Cache[cacheKey, cachedNode]
}

// NewLeafStore wraps db. cacheSize <= 0 selects DefaultNodeCacheSize.
func NewLeafStore(db Database, cacheSize int) (*LeafStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultNodeCacheSize
	}
	cache, err := lru.New[cacheKey, cachedNode](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create node cache: %w", err)
	}
	return &LeafStore{db: db, nodes: cache}, nil
}

// Spec returns the persisted shape of tree, if any.
func (s *LeafStore) Spec(tree uint8) (Spec, bool, error) {
	data, ok, err := s.db.Get(specKey(tree))
	if err != nil || !ok {
		return Spec{}, false, err
	}
	spec, err := decodeSpec(tree, data)
	return spec, err == nil, err
}

// Meta returns the committed root and size of tree, if any.
func (s *LeafStore) Meta(tree uint8) (Meta, bool, error) {
	data, ok, err := s.db.Get(metaKey(tree))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	m, err := decodeMeta(tree, data)
	return m, err == nil, err
}

// Leaf returns the committed value at index. A stored value whose length is
// not width is reported as corruption.
func (s *LeafStore) Leaf(tree uint8, index *uint256.Int, width int) ([]byte, bool, error) {
	data, ok, err := s.db.Get(leafKey(tree, index))
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(data) != width {
		return nil, false, stateerrors.Corruption(int(tree), "leaf %s has %d bytes, want %d", index.Dec(), len(data), width)
	}
	return data, true, nil
}

// Node returns the committed hash at (level, pos).
func (s *LeafStore) Node(tree, level uint8, pos *uint256.Int) (common.Hash, bool, error) {
	key := cacheKey{tree: tree, level: level, pos: pos.Bytes32()}
	if n, ok := s.nodes.Get(key); ok {
		return n.hash, n.ok, nil
	}
	data, ok, err := s.db.Get(nodeKey(tree, level, pos))
	if err != nil {
		return common.Hash{}, false, err
	}
	if ok && len(data) != common.HashLength {
		return common.Hash{}, false, stateerrors.Corruption(int(tree), "node level=%d pos=%s is %d bytes", level, pos.Dec(), len(data))
	}
	n := cachedNode{hash: common.BytesToHash(data), ok: ok}
	s.nodes.Add(key, n)
	return n.hash, n.ok, nil
}

// Wipe deletes everything and empties the cache.
func (s *LeafStore) Wipe() error {
	s.nodes.Purge()
	if err := s.db.Wipe(); err != nil {
		return err
	}
	log.Info(log.StoreMonitoring, "store wiped")
	return nil
}

// Close closes the underlying database.
func (s *LeafStore) Close() error {
	s.nodes.Purge()
	return s.db.Close()
}

// NewBatch starts an atomic write across all trees.
func (s *LeafStore) NewBatch() *WriteBatch {
	return &WriteBatch{s: s, kv: s.db.NewBatch()}
}

// WriteBatch stages typed records. Nothing is visible, including to the
// node cache, until Write succeeds.
type WriteBatch struct {
	s     *LeafStore
	kv    Batch
	nodes []cacheUpdate
}

type cacheUpdate struct {
	key  cacheKey
	hash common.Hash
}

func (b *WriteBatch) PutSpec(tree uint8, spec Spec) {
	b.kv.Put(specKey(tree), spec.encode())
}

func (b *WriteBatch) PutMeta(tree uint8, m Meta) {
	b.kv.Put(metaKey(tree), m.encode())
}

func (b *WriteBatch) PutLeaf(tree uint8, index *uint256.Int, value []byte) {
	b.kv.Put(leafKey(tree, index), value)
}

func (b *WriteBatch) PutNode(tree, level uint8, pos *uint256.Int, h common.Hash) {
	b.kv.Put(nodeKey(tree, level, pos), h.Bytes())
	b.nodes = append(b.nodes, cacheUpdate{cacheKey{tree, level, pos.Bytes32()}, h})
}

// Len returns the number of staged records.
func (b *WriteBatch) Len() int { return b.kv.Len() }

// Write applies the batch atomically and durably, then refreshes the cache.
func (b *WriteBatch) Write() error {
	if err := b.kv.Write(); err != nil {
		return err
	}
	for _, u := range b.nodes {
		b.s.nodes.Add(u.key, cachedNode{hash: u.hash, ok: true})
	}
	log.Debug(log.StoreMonitoring, "batch written", "records", b.kv.Len(), "nodes", len(b.nodes))
	return nil
}
