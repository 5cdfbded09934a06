package pipeline

import (
	"context"
	"sync"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/extract"
	"github.com/siftdev/siftd/internal/store"
)

// fakeIndex is an in-memory store.Index for pipeline tests.
type fakeIndex struct {
	mu      sync.Mutex
	records map[string]store.FileRecord

	listErr   error
	applyErr  error
	failFirst int // number of BulkApply calls to fail before succeeding
	flushErr  error

	batches [][]store.BatchOperation
	cleared bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[string]store.FileRecord)}
}

func (f *fakeIndex) seed(records ...store.FileRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.records[rec.Path] = rec
	}
}

func (f *fakeIndex) BulkApply(ctx context.Context, ops []store.BatchOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFirst > 0 {
		f.failFirst--
		err := f.applyErr
		if f.failFirst == 0 {
			f.applyErr = nil
		}
		return err
	}
	if f.applyErr != nil {
		return f.applyErr
	}

	batch := make([]store.BatchOperation, len(ops))
	copy(batch, ops)
	f.batches = append(f.batches, batch)

	for _, op := range ops {
		switch op.Type {
		case store.OpUpsert:
			f.records[op.Path] = store.FileRecord{
				Path:     op.Path,
				Hash:     op.Doc.Hash,
				Size:     op.Doc.Size,
				Modified: op.Doc.Modified,
			}
		case store.OpDelete:
			delete(f.records, op.Path)
		}
	}
	return nil
}

func (f *fakeIndex) List(ctx context.Context, fn func(store.FileRecord) error) error {
	f.mu.Lock()
	records := make([]store.FileRecord, 0, len(f.records))
	for _, rec := range f.records {
		records = append(records, rec)
	}
	listErr := f.listErr
	f.mu.Unlock()

	if listErr != nil {
		return listErr
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeIndex) Stats(ctx context.Context) (store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.Stats{DocCount: int64(len(f.records))}, nil
}

func (f *fakeIndex) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]store.FileRecord)
	f.cleared = true
	return nil
}

func (f *fakeIndex) Flush(ctx context.Context) error {
	return f.flushErr
}

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) allOps() []store.BatchOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ops []store.BatchOperation
	for _, batch := range f.batches {
		ops = append(ops, batch...)
	}
	return ops
}

func (f *fakeIndex) paths() map[string]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make(map[string]struct{}, len(f.records))
	for path := range f.records {
		paths[path] = struct{}{}
	}
	return paths
}

// fakeExtractor returns canned extraction results.
type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	err   error
	errOn map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, data []byte) (*extract.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if f.errOn != nil {
		if err, ok := f.errOn[path]; ok {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &extract.Result{
		Content:     "content of " + path,
		ContentType: "text/plain",
	}, nil
}

// fakeEmbedder returns fixed vectors.
type fakeEmbedder struct {
	mu        sync.Mutex
	textCalls int
	imgCalls  int
	err       error
}

func (f *fakeEmbedder) TextEmbedding(ctx context.Context, hash, text string, params config.ModelParams) ([]float32, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) ImageEmbedding(ctx context.Context, hash string, data []byte, params config.ModelParams) ([]float32, error) {
	f.mu.Lock()
	f.imgCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.3, 0.4}, nil
}
