package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/embed"
	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/extract"
	"github.com/siftdev/siftd/internal/scanner"
	"github.com/siftdev/siftd/internal/store"
)

// opsBuffer bounds the operation channel between processor and sink.
// A slow index applies backpressure to the workers through it.
const opsBuffer = 256

// clientFactory builds the per-run service clients from a settings
// snapshot, so a settings change takes effect on the next run.
type clientFactory func(cfg config.Config) (Extractor, Embedder, error)

// Service owns the indexing lifecycle: it serializes runs, applies a
// fresh settings snapshot per run, and guards ClearIndex against
// running alongside one.
type Service struct {
	cfg     *config.Store
	idx     store.Index
	tracker *Tracker
	logger  *slog.Logger

	clients clientFactory

	// triggers holds at most one pending trigger. A trigger arriving
	// during a run stays buffered and starts a fresh run right after.
	triggers chan struct{}

	// mu serializes run start against ClearIndex.
	mu sync.Mutex
}

// NewService creates the indexing service.
func NewService(cfg *config.Store, idx store.Index, tracker *Tracker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		idx:      idx,
		tracker:  tracker,
		logger:   logger,
		triggers: make(chan struct{}, 1),
	}
	s.clients = func(c config.Config) (Extractor, Embedder, error) {
		timeout := c.ServiceTimeout()
		extractor := extract.NewClient(c.Services.ExtractionURL, timeout, logger)
		embedder, err := embed.NewClient(c.Services.EmbeddingURL, timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return extractor, embedder, nil
	}
	return s
}

// Trigger requests a run from the control surface. It is rejected
// while a run is active; the caller maps that to 409.
func (s *Service) Trigger() error {
	if s.tracker.IsIndexing() {
		return errors.New(errors.ErrCodeAlreadyRunning, "an indexing run is already active", nil)
	}
	s.NotifyChange()
	return nil
}

// NotifyChange requests a run from the watcher. Unlike Trigger it is
// always accepted: during a run the request stays pending and the next
// run starts as soon as the current one ends.
func (s *Service) NotifyChange() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Run consumes triggers until the context is cancelled. Errors of
// individual runs are already recorded on the tracker; they do not
// stop the loop.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.triggers:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("indexing_run_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single indexing run end to end.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.tracker.IsIndexing() {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeAlreadyRunning, "an indexing run is already active", nil)
	}
	s.tracker.Started()
	s.mu.Unlock()

	cfg := s.cfg.Snapshot()

	extractor, embedder, err := s.clients(cfg)
	if err != nil {
		s.tracker.Failed(err)
		return err
	}

	scn := scanner.New(cfg.ExcludePattern(), cfg.Indexing.MaxFileSize, s.logger)
	snapshot := scanner.Collect(ctx, scn.Scan(ctx, cfg.Indexing.Folders))
	if ctx.Err() != nil {
		s.tracker.Failed(ctx.Err())
		return ctx.Err()
	}

	changes, err := Diff(ctx, snapshot, s.idx)
	if err != nil {
		s.tracker.DiffFailed(err)
		return err
	}
	s.tracker.DiffCalculated(len(changes.ToAdd), len(changes.ToUpdate), len(changes.ToRemove))

	processor := NewProcessor(extractor, embedder, cfg.Semantic, cfg.Workers(), s.tracker, s.logger)
	sink := NewSink(s.idx, cfg.Indexing.BatchSize, s.tracker, s.logger)

	ops := make(chan store.BatchOperation, opsBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sink.Run(gctx, ops)
	})
	g.Go(func() error {
		defer close(ops)
		return processor.Process(gctx, changes, ops)
	})

	if err := g.Wait(); err != nil {
		s.tracker.Failed(err)
		return err
	}

	if err := s.idx.Flush(ctx); err != nil {
		flushErr := errors.Wrap(errors.ErrCodeFlushFailed, err)
		s.tracker.Failed(flushErr)
		return flushErr
	}

	s.tracker.Finished()
	return nil
}

// ClearIndex drops every document. It is rejected while a run is
// active so a run never races a wipe.
func (s *Service) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracker.IsIndexing() {
		return errors.New(errors.ErrCodeClearDenied, "cannot clear the index during an indexing run", nil)
	}

	if err := s.idx.DeleteAll(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	s.logger.Info("index_cleared")
	return nil
}

// Status returns the current tracker snapshot.
func (s *Service) Status() Snapshot {
	return s.tracker.Snapshot()
}

// Stats returns index statistics.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	return s.idx.Stats(ctx)
}

// Subscribe exposes tracker events for the status stream.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.tracker.Subscribe()
}
