package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/logging"
	"github.com/siftdev/siftd/internal/store"
)

func newTestSink(idx store.Index, batchSize int, tr *Tracker) *Sink {
	s := NewSink(idx, batchSize, tr, logging.Discard())
	s.retryCfg = errors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
	return s
}

func upsertOp(path string) store.BatchOperation {
	return store.BatchOperation{
		Type: store.OpUpsert,
		Path: path,
		Doc:  &store.Document{Path: path, Hash: "h", Size: 1, Modified: 1},
	}
}

func runSink(t *testing.T, s *Sink, ops []store.BatchOperation) error {
	t.Helper()
	ch := make(chan store.BatchOperation, len(ops))
	for _, op := range ops {
		ch <- op
	}
	close(ch)
	return s.Run(context.Background(), ch)
}

func TestSink_FlushesFullBatches(t *testing.T) {
	idx := newFakeIndex()
	tr := NewTracker(logging.Discard())
	s := newTestSink(idx, 2, tr)

	err := runSink(t, s, []store.BatchOperation{
		upsertOp("/a"), upsertOp("/b"), upsertOp("/c"), upsertOp("/d"), upsertOp("/e"),
	})
	require.NoError(t, err)

	// Two full batches plus the remainder at end-of-run.
	require.Len(t, idx.batches, 3)
	assert.Len(t, idx.batches[0], 2)
	assert.Len(t, idx.batches[1], 2)
	assert.Len(t, idx.batches[2], 1)
	assert.Equal(t, 5, tr.Snapshot().Sent)
}

func TestSink_EmptyRunFlushesNothing(t *testing.T) {
	idx := newFakeIndex()
	s := newTestSink(idx, 10, NewTracker(logging.Discard()))

	require.NoError(t, runSink(t, s, nil))
	assert.Empty(t, idx.batches)
}

func TestSink_RetriesTransientFlushFailure(t *testing.T) {
	idx := newFakeIndex()
	idx.applyErr = fmt.Errorf("index briefly unavailable")
	idx.failFirst = 2
	tr := NewTracker(logging.Discard())
	s := newTestSink(idx, 10, tr)

	err := runSink(t, s, []store.BatchOperation{upsertOp("/a")})
	require.NoError(t, err)

	require.Len(t, idx.batches, 1)
	assert.Equal(t, 1, tr.Snapshot().Sent)
}

func TestSink_ExhaustedRetriesAreFatal(t *testing.T) {
	idx := newFakeIndex()
	idx.applyErr = fmt.Errorf("index is down")
	tr := NewTracker(logging.Discard())
	s := newTestSink(idx, 10, tr)

	err := runSink(t, s, []store.BatchOperation{upsertOp("/a")})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFlushFailed, errors.GetCode(err))
	assert.True(t, errors.IsFatal(err))
	assert.Zero(t, tr.Snapshot().Sent)
}

func TestSink_CommittedBatchesStandAfterFatalFailure(t *testing.T) {
	idx := newFakeIndex()
	tr := NewTracker(logging.Discard())
	s := newTestSink(idx, 1, tr)

	ch := make(chan store.BatchOperation, 2)
	ch <- upsertOp("/committed")
	// The second batch fails permanently.
	go func() {
		for {
			idx.mu.Lock()
			committed := len(idx.batches) == 1
			if committed {
				idx.applyErr = fmt.Errorf("index died")
			}
			idx.mu.Unlock()
			if committed {
				break
			}
			time.Sleep(time.Millisecond)
		}
		ch <- upsertOp("/lost")
		close(ch)
	}()

	err := s.Run(context.Background(), ch)
	require.Error(t, err)

	assert.Contains(t, idx.paths(), "/committed")
	assert.Equal(t, 1, tr.Snapshot().Sent)
}

func TestSink_CancelledContext(t *testing.T) {
	idx := newFakeIndex()
	s := newTestSink(idx, 10, NewTracker(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan store.BatchOperation)
	err := s.Run(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}
