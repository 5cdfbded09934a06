package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/extract"
	"github.com/siftdev/siftd/internal/store"
)

// Extractor is the content-extraction dependency of the processor.
type Extractor interface {
	Extract(ctx context.Context, path string, data []byte) (*extract.Result, error)
}

// Embedder is the embedding dependency of the processor.
type Embedder interface {
	TextEmbedding(ctx context.Context, hash, text string, params config.ModelParams) ([]float32, error)
	ImageEmbedding(ctx context.Context, hash string, data []byte, params config.ModelParams) ([]float32, error)
}

// Processor turns a ChangeSet into batch operations. Additions and
// updates run as concurrent tasks under a semaphore; removals are
// enqueued directly.
type Processor struct {
	extractor Extractor
	embedder  Embedder
	semantic  config.SemanticConfig
	workers   int64
	tracker   *Tracker
	logger    *slog.Logger
}

// NewProcessor creates a processor bounded to workers concurrent file
// tasks.
func NewProcessor(extractor Extractor, embedder Embedder, semantic config.SemanticConfig, workers int, tracker *Tracker, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		extractor: extractor,
		embedder:  embedder,
		semantic:  semantic,
		workers:   int64(workers),
		tracker:   tracker,
		logger:    logger,
	}
}

// Process drains the ChangeSet into ops. It returns once every task
// finished or the context was cancelled. Per-file failures are soft:
// they are recorded on the tracker and the file is skipped.
func (p *Processor) Process(ctx context.Context, changes *ChangeSet, ops chan<- store.BatchOperation) error {
	for _, path := range changes.ToRemove {
		select {
		case ops <- store.BatchOperation{Type: store.OpDelete, Path: path}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sem := semaphore.NewWeighted(p.workers)
	var wg sync.WaitGroup

	tasks := make([]string, 0, len(changes.ToAdd)+len(changes.ToUpdate))
	tasks = append(tasks, changes.ToAdd...)
	tasks = append(tasks, changes.ToUpdate...)

	for _, path := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)
			defer p.tracker.FileProcessed()

			doc, err := p.processFile(ctx, path)
			if err != nil {
				if ctx.Err() == nil {
					p.tracker.FileError(path, err)
				}
				return
			}

			select {
			case ops <- store.BatchOperation{Type: store.OpUpsert, Path: path, Doc: doc}:
			case <-ctx.Done():
			}
		}(path)
	}

	wg.Wait()
	return ctx.Err()
}

// processFile reads, hashes, extracts, and embeds a single file.
func (p *Processor) processFile(ctx context.Context, path string) (*store.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err).WithPath(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileRead, err).WithPath(path)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	result, err := p.extractor.Extract(ctx, path, data)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		Path:        path,
		Hash:        hash,
		Size:        info.Size(),
		Modified:    info.ModTime().Unix(),
		ContentType: result.ContentType,
		Content:     result.Content,
		Image:       result.Image,
		Document:    result.Document,
		Multimedia:  result.Multimedia,
	}

	p.embedDocument(ctx, doc, hash, data)
	return doc, nil
}

// embedDocument attaches embeddings for the enabled modalities. An
// embedding failure degrades the document instead of skipping it: the
// file stays findable by keyword even while the embedding server is
// down.
func (p *Processor) embedDocument(ctx context.Context, doc *store.Document, hash string, data []byte) {
	if p.semantic.TextEnabled && doc.Content != "" {
		vec, err := p.embedder.TextEmbedding(ctx, hash, doc.Content, p.semantic.MiniLMText)
		if err != nil {
			p.logger.Warn("text_embedding_failed",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
		} else {
			doc.TextEmbedding = vec
		}
	}

	if p.semantic.ImageEnabled && strings.HasPrefix(doc.ContentType, "image/") {
		vec, err := p.embedder.ImageEmbedding(ctx, hash, data, p.semantic.CLIPImage)
		if err != nil {
			p.logger.Warn("image_embedding_failed",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
		} else {
			if doc.Image == nil {
				doc.Image = &store.ImageData{}
			}
			doc.Image.Embedding = vec
		}
	}
}
