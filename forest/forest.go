package forest

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/worldstate/checkpoint"
	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/colorfulnotion/worldstate/overlay"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/worldstate/forest"

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Forest is a fixed set of Merkle trees over one store, with commit and
// rollback that are atomic across every tree. All methods are safe for
// concurrent use; operations execute one at a time on a single worker.
type Forest struct {
	opts    Options
	configs []merkle.Config
	metrics *Metrics
	tracer  trace.Tracer

	// Guards lifecycle transitions and the channels below.
	mu      sync.RWMutex
	state   lifecycle
	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}

	// Owned by the worker while running.
	store       *store.LeafStore
	trees       []*treeState
	checkpoints *checkpoint.Manager
	status      *overlay.StatusTracker
	// Set when the image no longer matches memory; every job fails with it
	// until the forest is restarted.
	broken error
}

// New validates opts and builds a stopped forest. No storage is touched
// until Start.
func New(opts Options) (*Forest, error) {
	if err := validateTrees(opts.Trees); err != nil {
		return nil, err
	}
	configs := make([]merkle.Config, len(opts.Trees))
	for i, tc := range opts.Trees {
		cfg, err := tc.merkleConfig(TreeID(i))
		if err != nil {
			return nil, err
		}
		configs[i] = cfg
	}
	if opts.Database == nil && opts.Backend != store.BackendMemory && opts.Path == "" {
		return nil, invalid(stateerrors.NoTree, "no database path")
	}
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	opts.Trees = append([]TreeConfig(nil), opts.Trees...)
	return &Forest{
		opts:    opts,
		configs: configs,
		metrics: metrics,
		tracer:  tracer,
		status:  overlay.NewStatusTracker(),
	}, nil
}

// Open creates and starts a forest.
func Open(ctx context.Context, opts Options) (*Forest, error) {
	f, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Start opens the store. A fresh image gets genesis; an existing one must
// match the configuration and have its checkpoints restored. A forest
// built over Options.Database cannot be restarted, since Stop closes it.
func (f *Forest) Start(ctx context.Context) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == stateRunning {
		return nil
	}
	if f.state == stateStopped && f.opts.Database != nil {
		return fmt.Errorf("%w: injected database was closed", stateerrors.ErrStopped)
	}

	_, span := f.tracer.Start(ctx, "forest.Start", trace.WithAttributes(
		attribute.Int("trees", len(f.configs)),
		attribute.String("backend", string(f.opts.Backend)),
	))
	defer func() { endSpan(span, err) }()

	db := f.opts.Database
	if db == nil {
		if db, err = store.Open(f.opts.Backend, f.opts.Path); err != nil {
			return err
		}
	}
	ls, err := store.NewLeafStore(db, f.opts.NodeCacheSize)
	if err != nil {
		db.Close()
		return err
	}
	f.store = ls
	f.broken = nil
	f.checkpoints = checkpoint.NewManager(ls)
	if err := f.resetTrees(); err != nil {
		ls.Close()
		return err
	}

	fresh, err := f.checkSpecs()
	if err == nil {
		if fresh {
			err = f.genesis()
		} else {
			err = f.restore()
		}
	}
	if err != nil {
		ls.Close()
		return err
	}
	span.SetAttributes(attribute.Bool("fresh", fresh))

	f.jobs = make(chan job)
	f.quit = make(chan struct{})
	f.stopped = make(chan struct{})
	f.state = stateRunning
	go f.run(f.jobs, f.quit, f.stopped)

	log.Info(log.ForestMonitoring, "forest started", "path", f.opts.Path, "fresh", fresh, "trees", len(f.trees))
	for _, ts := range f.trees {
		log.Debug(log.ForestMonitoring, "tree", "name", ts.cfg.Name, "root", ts.tree.Root(), "size", ts.tree.Size().Dec())
	}
	return nil
}

// Stop halts the worker and closes the store. Uncommitted writes are lost.
func (f *Forest) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateRunning {
		return nil
	}
	close(f.quit)
	<-f.stopped
	f.state = stateStopped

	if f.status.IsDirty() {
		log.Warn(log.ForestMonitoring, "stopping with uncommitted writes", "dirtyTrees", f.dirtyTrees())
		f.status.MarkClean()
	}
	if err := f.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	log.Info(log.ForestMonitoring, "forest stopped", "path", f.opts.Path)
	return nil
}

// resetTrees builds empty trees with fresh overlays.
func (f *Forest) resetTrees() error {
	f.trees = make([]*treeState, len(f.configs))
	for i, cfg := range f.configs {
		ts, err := newTreeState(TreeID(i), f.opts.Trees[i], cfg, f.store)
		if err != nil {
			return err
		}
		f.trees[i] = ts
	}
	return nil
}

// checkSpecs compares the persisted spec records with the configuration.
// It reports fresh when the image holds none.
func (f *Forest) checkSpecs() (fresh bool, err error) {
	found := 0
	for _, ts := range f.trees {
		want := ts.cfg.spec(f.configs[ts.id])
		got, ok, err := f.store.Spec(uint8(ts.id))
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		found++
		if got != want {
			return false, stateerrors.Mismatch(int(ts.id), "image has %s, configured %s", got, want)
		}
	}
	extra := len(f.trees)
	if extra < store.MaxTrees {
		if got, ok, err := f.store.Spec(uint8(extra)); err != nil {
			return false, err
		} else if ok {
			return false, stateerrors.Mismatch(extra, "image has an unconfigured tree (%s)", got)
		}
	}
	switch found {
	case 0:
		return true, nil
	case len(f.trees):
		return false, nil
	default:
		return false, stateerrors.Mismatch(stateerrors.NoTree, "image has %d of %d configured trees", found, len(f.trees))
	}
}

// genesis writes spec records, applies seeds and commits the result.
func (f *Forest) genesis() error {
	for _, ts := range f.trees {
		if ts.cfg.SeedRootOf == "" {
			continue
		}
		src := f.treeByName(ts.cfg.SeedRootOf)
		value := common.LeftAlign(src.tree.Root().Bytes(), ts.cfg.LeafWidth)
		if _, err := ts.tree.Put(new(uint256.Int), value); err != nil {
			return fmt.Errorf("seed tree %s: %w", ts.cfg.Name, err)
		}
	}

	b := f.store.NewBatch()
	for _, ts := range f.trees {
		b.PutSpec(uint8(ts.id), ts.cfg.spec(f.configs[ts.id]))
	}
	cps, err := f.stageAll(b, true)
	if err != nil {
		return err
	}
	if err := b.Write(); err != nil {
		return stateerrors.New(stateerrors.ErrCommitFailure, stateerrors.NoTree, nil, fmt.Errorf("genesis: %w", err))
	}
	f.advance(cps)
	log.Info(log.ForestMonitoring, "genesis committed", "trees", len(f.trees), "records", b.Len())
	return nil
}

// restore loads every checkpoint into its tree.
func (f *Forest) restore() error {
	for _, ts := range f.trees {
		cp, err := f.checkpoints.Load(uint8(ts.id), checkpoint.Shape{
			Depth:     ts.tree.Depth(),
			EmptyRoot: ts.tree.EmptyRoot(),
		})
		if err != nil {
			return err
		}
		ts.tree.Restore(cp.Root, &cp.Size)
	}
	return nil
}

// stageAll adds the overlays and checkpoints of dirty trees, or of every
// tree when all is set, to b.
func (f *Forest) stageAll(b *store.WriteBatch, all bool) (map[TreeID]checkpoint.Checkpoint, error) {
	cps := make(map[TreeID]checkpoint.Checkpoint)
	for _, ts := range f.trees {
		if !all && !ts.dirty() {
			continue
		}
		if err := ts.stage(b); err != nil {
			return nil, err
		}
		cp := checkpoint.New(ts.tree.Root(), ts.tree.Size())
		f.checkpoints.Stage(b, uint8(ts.id), cp)
		cps[ts.id] = cp
	}
	return cps, nil
}

// advance moves checkpoints after a successful write and clears overlays.
func (f *Forest) advance(cps map[TreeID]checkpoint.Checkpoint) {
	for id, cp := range cps {
		f.checkpoints.Advance(uint8(id), cp)
		f.trees[id].pending.Reset()
	}
	f.status.MarkClean()
	f.metrics.SetDirtyTrees(0)
}

func (f *Forest) treeByName(name string) *treeState {
	for _, ts := range f.trees {
		if ts.cfg.Name == name {
			return ts
		}
	}
	return nil
}

func (f *Forest) dirtyTrees() int {
	n := 0
	for _, ts := range f.trees {
		if ts.dirty() {
			n++
		}
	}
	return n
}

func (f *Forest) lookup(id TreeID) (*treeState, error) {
	if int(id) >= len(f.trees) {
		return nil, stateerrors.New(stateerrors.ErrUnknownTree, int(id), nil, nil)
	}
	return f.trees[id], nil
}

func (f *Forest) markWritten(n int) {
	f.metrics.RecordWrites(n)
	if d := f.dirtyTrees(); d > 0 {
		f.status.MarkDirty()
		f.metrics.SetDirtyTrees(d)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
