package forest

import (
	"context"
	"fmt"
	"time"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/colorfulnotion/worldstate/overlay"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LeafUpdate is one write of a PutBatch.
type LeafUpdate struct {
	Index *uint256.Int
	Value []byte
}

// Get returns the value at index, or the tree's zero value if it was never
// written. Pending writes are visible.
func (f *Forest) Get(ctx context.Context, tree TreeID, index *uint256.Int) ([]byte, error) {
	var value []byte
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		f.metrics.RecordRead()
		value, err = ts.tree.Get(index)
		return err
	})
	return value, err
}

// Put writes value at index and returns the new root of the tree.
func (f *Forest) Put(ctx context.Context, tree TreeID, index *uint256.Int, value []byte) (common.Hash, error) {
	var root common.Hash
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		if root, err = ts.tree.Put(index, value); err != nil {
			return err
		}
		f.markWritten(1)
		return nil
	})
	return root, err
}

// PutBatch applies updates in order as one step and returns the final root.
// Every index and width is checked before the first write.
func (f *Forest) PutBatch(ctx context.Context, tree TreeID, updates []LeafUpdate) (common.Hash, error) {
	var root common.Hash
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if u.Index == nil || !ts.tree.InRange(u.Index) {
				return stateerrors.OutOfRange(int(tree), u.Index, ts.tree.Depth())
			}
			if len(u.Value) != ts.tree.LeafWidth() {
				return stateerrors.InvalidLeaf(int(tree), u.Index, len(u.Value), ts.tree.LeafWidth())
			}
		}
		root = ts.tree.Root()
		for i, u := range updates {
			if root, err = ts.tree.Put(u.Index, u.Value); err != nil {
				f.markWritten(i)
				return err
			}
		}
		f.markWritten(len(updates))
		return nil
	})
	return root, err
}

// GetRoot returns the current root, pending writes included.
func (f *Forest) GetRoot(ctx context.Context, tree TreeID) (common.Hash, error) {
	var root common.Hash
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		f.metrics.RecordRead()
		root = ts.tree.Root()
		return nil
	})
	return root, err
}

// GetSize returns one past the highest index ever written.
func (f *Forest) GetSize(ctx context.Context, tree TreeID) (*uint256.Int, error) {
	var size *uint256.Int
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		f.metrics.RecordRead()
		size = ts.tree.Size()
		return nil
	})
	return size, err
}

// GetHashPath returns exactly Depth sibling pairs for index, or an error.
func (f *Forest) GetHashPath(ctx context.Context, tree TreeID, index *uint256.Int) (merkle.HashPath, error) {
	var path merkle.HashPath
	err := f.do(ctx, func() error {
		ts, err := f.lookup(tree)
		if err != nil {
			return err
		}
		f.metrics.RecordRead()
		path, err = ts.tree.HashPath(index)
		return err
	})
	return path, err
}

// Commit writes the pending state of every tree in one atomic batch and
// advances the checkpoints. If the store rejects the batch the error wraps
// ErrCommitFailure and every overlay is kept, so Commit may be retried or
// followed by Rollback. Committing a clean forest is a no-op.
func (f *Forest) Commit(ctx context.Context) error {
	return f.do(ctx, func() (err error) {
		if !f.status.IsDirty() {
			return nil
		}
		_, span := f.tracer.Start(ctx, "forest.Commit")
		defer func() { endSpan(span, err) }()

		start := time.Now()
		b := f.store.NewBatch()
		cps, err := f.stageAll(b, false)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("trees", len(cps)), attribute.Int("records", b.Len()))
		if err := b.Write(); err != nil {
			f.metrics.RecordCommitFailure()
			log.Error(log.ForestMonitoring, "commit failed", "trees", len(cps), "records", b.Len(), "err", err)
			return stateerrors.New(stateerrors.ErrCommitFailure, stateerrors.NoTree, nil, err)
		}
		f.advance(cps)
		f.metrics.RecordCommit(start)
		log.Debug(log.ForestMonitoring, "committed", "trees", len(cps), "records", b.Len(), "elapsed", time.Since(start))
		return nil
	})
}

// Rollback discards the pending state of every tree and restores each root
// and size to its checkpoint. The durable checkpoints are verified first;
// if they cannot be read or disagree with memory the error wraps
// ErrStorageCorruption and nothing is discarded.
func (f *Forest) Rollback(ctx context.Context) error {
	return f.do(ctx, func() (err error) {
		if !f.status.IsDirty() {
			return nil
		}
		_, span := f.tracer.Start(ctx, "forest.Rollback", trace.WithAttributes(
			attribute.Int("dirtyTrees", f.dirtyTrees()),
		))
		defer func() { endSpan(span, err) }()

		for _, ts := range f.trees {
			if err := f.checkpoints.Verify(uint8(ts.id)); err != nil {
				log.Error(log.ForestMonitoring, "rollback found corrupt checkpoint", "tree", ts.cfg.Name, "err", err)
				return err
			}
		}
		for _, ts := range f.trees {
			cp, _ := f.checkpoints.Get(uint8(ts.id))
			ts.pending.Reset()
			ts.tree.Restore(cp.Root, &cp.Size)
		}
		f.status.MarkClean()
		f.metrics.SetDirtyTrees(0)
		f.metrics.RecordRollback()
		log.Debug(log.ForestMonitoring, "rolled back")
		return nil
	})
}

// Destroy wipes the image, discards pending writes and writes genesis again,
// leaving the forest running on an empty image. If any step fails the image
// is in an unknown state: the error wraps ErrStorageCorruption and every
// later operation fails with it until the forest is restarted.
func (f *Forest) Destroy(ctx context.Context) error {
	return f.do(ctx, func() (err error) {
		_, span := f.tracer.Start(ctx, "forest.Destroy")
		defer func() { endSpan(span, err) }()

		if err := f.destroy(); err != nil {
			f.broken = stateerrors.New(stateerrors.ErrStorageCorruption, stateerrors.NoTree, nil, fmt.Errorf("destroy: %w", err))
			log.Error(log.ForestMonitoring, "destroy failed, forest unusable until restart", "path", f.opts.Path, "err", err)
			return f.broken
		}
		log.Warn(log.ForestMonitoring, "forest destroyed", "path", f.opts.Path)
		return nil
	})
}

func (f *Forest) destroy() error {
	if err := f.store.Wipe(); err != nil {
		return err
	}
	f.checkpoints.Reset()
	if err := f.resetTrees(); err != nil {
		return err
	}
	f.status.MarkClean()
	f.metrics.SetDirtyTrees(0)
	return f.genesis()
}

// State reports whether writes are pending.
func (f *Forest) State() overlay.Status {
	return f.status.Get()
}

// Trees returns the configured trees, indexed by TreeID.
func (f *Forest) Trees() []TreeConfig {
	return append([]TreeConfig(nil), f.opts.Trees...)
}

// TreeByName returns the id of the named tree.
func (f *Forest) TreeByName(name string) (TreeID, bool) {
	for i, tc := range f.opts.Trees {
		if tc.Name == name {
			return TreeID(i), true
		}
	}
	return 0, false
}

// Hasher returns the hasher of a tree, for verifying its hash paths.
func (f *Forest) Hasher(tree TreeID) (merkle.Hasher, error) {
	if int(tree) >= len(f.configs) {
		return nil, stateerrors.New(stateerrors.ErrUnknownTree, int(tree), nil, nil)
	}
	return f.configs[tree].Hasher, nil
}

// EmptyRoot returns the root a tree has before any write.
func (f *Forest) EmptyRoot(tree TreeID) (common.Hash, error) {
	if int(tree) >= len(f.configs) {
		return common.Hash{}, stateerrors.New(stateerrors.ErrUnknownTree, int(tree), nil, nil)
	}
	cfg := f.configs[tree]
	return merkle.EmptyRoot(cfg.Hasher, cfg.Depth, cfg.ZeroValue), nil
}

// Metrics returns the forest metrics.
func (f *Forest) Metrics() *Metrics {
	return f.metrics
}
