package pipeline

import (
	"context"
	"log/slog"

	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/store"
)

// Sink consumes batch operations, buffers them up to the batch size,
// and flushes bulk writes to the index with retry.
type Sink struct {
	idx       store.Index
	batchSize int
	retryCfg  errors.RetryConfig
	tracker   *Tracker
	logger    *slog.Logger
}

// NewSink creates a sink flushing at batchSize operations.
func NewSink(idx store.Index, batchSize int, tracker *Tracker, logger *slog.Logger) *Sink {
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		idx:       idx,
		batchSize: batchSize,
		retryCfg:  errors.DefaultRetryConfig(),
		tracker:   tracker,
		logger:    logger,
	}
}

// Run consumes ops until the channel closes, then flushes the
// remainder. A flush that exhausts its retries is fatal for the run;
// batches committed before it stand. Re-running converges because the
// operations are idempotent per path.
func (s *Sink) Run(ctx context.Context, ops <-chan store.BatchOperation) error {
	batch := make([]store.BatchOperation, 0, s.batchSize)

	for {
		select {
		case op, ok := <-ops:
			if !ok {
				return s.flush(ctx, batch)
			}
			batch = append(batch, op)
			if len(batch) >= s.batchSize {
				if err := s.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush commits one batch with exponential backoff.
func (s *Sink) flush(ctx context.Context, batch []store.BatchOperation) error {
	if len(batch) == 0 {
		return nil
	}

	err := errors.Retry(ctx, s.retryCfg, func() error {
		if err := s.idx.BulkApply(ctx, batch); err != nil {
			s.logger.Warn("batch_flush_retry",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeFlushFailed, err)
	}

	s.tracker.FilesSent(len(batch))
	s.logger.Debug("batch_flushed", slog.Int("batch_size", len(batch)))
	return nil
}
