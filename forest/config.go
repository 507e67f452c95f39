package forest

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// TreeID selects one configured tree. It is the tree's position in
// Options.Trees.
type TreeID uint8

// Conventional tree ids of RollupTrees.
const (
	DataTree TreeID = iota
	NullifierTree
	RootTree
	DefiTree
)

// MaxTrees leaves one id free so an image with more trees than the
// configuration can be detected.
const MaxTrees = store.MaxTrees - 1

// TreeConfig fixes the shape of one tree for the life of an image.
type TreeConfig struct {
	Name      string
	Depth     uint8
	LeafWidth int
	// ZeroValue defaults to LeafWidth zero bytes.
	ZeroValue []byte
	// HashDomain is one of merkle.DomainBlake2b (default), DomainKeccak or
	// DomainSHA256.
	HashDomain string
	// SeedRootOf names a tree whose genesis root is written to leaf 0 of
	// this tree when a fresh image is created.
	SeedRootOf string
}

// Options configures a Forest.
type Options struct {
	// Path to the database directory. Ignored by the memory backend.
	Path    string
	Backend store.Backend
	Trees   []TreeConfig

	// NodeCacheSize is the number of committed node lookups kept in memory
	// (0 = store.DefaultNodeCacheSize).
	NodeCacheSize int

	// Registerer receives the forest metrics. Nil disables registration;
	// the metrics are still collected.
	Registerer prometheus.Registerer

	// Tracer records spans for lifecycle, commit and rollback. Nil uses the
	// global otel provider.
	Tracer trace.Tracer

	// Database overrides Backend and Path with an already opened database.
	// The forest closes it on Stop, so such a forest cannot be restarted.
	Database store.Database
}

// DefaultOptions returns the rollup tree set on LevelDB at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		Backend:       store.BackendLevelDB,
		Trees:         RollupTrees(),
		NodeCacheSize: store.DefaultNodeCacheSize,
	}
}

// RollupTrees returns the conventional tree set: note commitments, spent
// nullifiers, historical data roots and defi interactions. With the default
// blake2b hashing a fresh image has these roots:
//
//	data       aa8b7de870e29b3947b8d48021bdf5e5ce4ba08145554e99c961290cece9750b
//	nullifier  98c230c8bbebe9652baf41713d8da8c17efc18ffb05849a98481a0c12e80cfc8
//	root       083b5437b3bc24952384153e9634e2d0cc722bfdaa41315240323920ae63eccd
//	defi       08ee517bbff6956dafc6d59a575572ac59d6f653b41c11cd5eeae015714296b5
//
// Writing 64 bytes of 0x05 at data index 0 gives
// 7ea35e007f986353de74975ced2669f8de243fb679f332dc500f7503cf45d7aa.
func RollupTrees() []TreeConfig {
	return []TreeConfig{
		DataTree:      {Name: "data", Depth: 32, LeafWidth: 64},
		NullifierTree: {Name: "nullifier", Depth: 128, LeafWidth: 64},
		RootTree:      {Name: "root", Depth: 28, LeafWidth: 64, SeedRootOf: "data"},
		DefiTree:      {Name: "defi", Depth: 30, LeafWidth: 64},
	}
}

// zeroValue returns the configured zero value or LeafWidth zero bytes.
func (c TreeConfig) zeroValue() []byte {
	if c.ZeroValue != nil {
		return common.CopyBytes(c.ZeroValue)
	}
	return make([]byte, c.LeafWidth)
}

func (c TreeConfig) merkleConfig(id TreeID) (merkle.Config, error) {
	h, err := merkle.NewHasher(c.HashDomain)
	if err != nil {
		return merkle.Config{}, stateerrors.New(stateerrors.ErrInvalidConfig, int(id), nil, err)
	}
	cfg := merkle.Config{
		ID:        int(id),
		Depth:     c.Depth,
		LeafWidth: c.LeafWidth,
		ZeroValue: c.zeroValue(),
		Hasher:    h,
	}
	if err := cfg.Validate(); err != nil {
		return merkle.Config{}, stateerrors.New(stateerrors.ErrInvalidConfig, int(id), nil, err)
	}
	return cfg, nil
}

// spec is the record persisted for this tree and compared on reopen.
func (c TreeConfig) spec(cfg merkle.Config) store.Spec {
	return store.Spec{
		Depth:     cfg.Depth,
		LeafWidth: uint16(cfg.LeafWidth),
		Domain:    cfg.Hasher.Domain(),
		ZeroLeaf:  cfg.Hasher.HashLeaf(cfg.ZeroValue),
	}
}

func invalid(tree int, format string, args ...any) error {
	return stateerrors.New(stateerrors.ErrInvalidConfig, tree, nil, fmt.Errorf(format, args...))
}

// validateTrees checks the tree set as a whole. Per-tree shape is checked by
// merkleConfig.
func validateTrees(trees []TreeConfig) error {
	if len(trees) == 0 {
		return invalid(stateerrors.NoTree, "no trees configured")
	}
	if len(trees) > MaxTrees {
		return invalid(stateerrors.NoTree, "%d trees configured, at most %d", len(trees), MaxTrees)
	}
	names := make(map[string]int, len(trees))
	for i, t := range trees {
		if t.Name == "" {
			return invalid(i, "tree has no name")
		}
		if _, dup := names[t.Name]; dup {
			return invalid(i, "duplicate tree name %q", t.Name)
		}
		names[t.Name] = i
		if t.LeafWidth > math.MaxUint16 {
			return invalid(i, "leaf width %d exceeds %d", t.LeafWidth, math.MaxUint16)
		}
	}
	for i, t := range trees {
		if t.SeedRootOf == "" {
			continue
		}
		src, ok := names[t.SeedRootOf]
		if !ok {
			return invalid(i, "seed tree %q is not configured", t.SeedRootOf)
		}
		if src == i {
			return invalid(i, "tree cannot seed itself")
		}
		if t.LeafWidth < common.HashLength {
			return invalid(i, "leaf width %d cannot hold a %d-byte root", t.LeafWidth, common.HashLength)
		}
	}
	return nil
}
