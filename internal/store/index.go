package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Embedding dimensions per modality.
const (
	// TextDimensions is the MiniLM sentence embedding size.
	TextDimensions = 384
	// ImageDimensions is the CLIP image embedding size.
	ImageDimensions = 512
)

// On-disk layout under <dataDir>/index.
const (
	metadataFile = "metadata.db"
	lexicalDir   = "lexical.bleve"
	textVecFile  = "text.hnsw"
	imageVecFile = "image.hnsw"
)

// CompositeIndex fans every batch out to the metadata store, the
// lexical index, and the per-modality vector stores.
type CompositeIndex struct {
	dir       string
	meta      *MetadataStore
	lexical   *LexicalIndex
	textVecs  *VectorStore
	imageVecs *VectorStore
	logger    *slog.Logger
}

var _ Index = (*CompositeIndex)(nil)

// Open creates or opens the full index under dataDir. An empty dataDir
// opens everything in memory for testing.
func Open(dataDir string, logger *slog.Logger) (*CompositeIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := ""
	metaPath, lexicalPath := "", ""
	if dataDir != "" {
		dir = filepath.Join(dataDir, "index")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		metaPath = filepath.Join(dir, metadataFile)
		lexicalPath = filepath.Join(dir, lexicalDir)
	}

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	lexical, err := NewLexicalIndex(lexicalPath)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	textVecs, err := NewVectorStore(VectorConfig{Dimensions: TextDimensions})
	if err != nil {
		_ = lexical.Close()
		_ = meta.Close()
		return nil, err
	}
	imageVecs, err := NewVectorStore(VectorConfig{Dimensions: ImageDimensions})
	if err != nil {
		_ = lexical.Close()
		_ = meta.Close()
		return nil, err
	}

	idx := &CompositeIndex{
		dir:       dir,
		meta:      meta,
		lexical:   lexical,
		textVecs:  textVecs,
		imageVecs: imageVecs,
		logger:    logger,
	}

	if dir != "" {
		if err := textVecs.Load(filepath.Join(dir, textVecFile)); err != nil {
			logger.Warn("text_vectors_load_failed", slog.String("error", err.Error()))
		}
		if err := imageVecs.Load(filepath.Join(dir, imageVecFile)); err != nil {
			logger.Warn("image_vectors_load_failed", slog.String("error", err.Error()))
		}
	}

	if err := idx.reconcileVectors(context.Background()); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to reconcile vector flags: %w", err)
	}

	return idx, nil
}

// reconcileVectors compares the vector flags in metadata against the
// loaded graphs. Metadata commits per batch while the graphs only hit
// disk on Flush, so a crash between the two can leave files marked as
// embedded whose vectors never made it to disk. Such files would never
// be picked up again: the diff only looks at size and mtime. Clearing
// their flags and mtime forces the next run to re-process them.
func (c *CompositeIndex) reconcileVectors(ctx context.Context) error {
	var stale []string
	err := c.meta.List(ctx, func(rec FileRecord) error {
		if (rec.HasTextVec && !c.textVecs.Contains(rec.Path)) ||
			(rec.HasImageVec && !c.imageVecs.Contains(rec.Path)) {
			stale = append(stale, rec.Path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	if err := c.meta.InvalidateVectors(ctx, stale); err != nil {
		return err
	}
	c.logger.Warn("stale_vector_flags_reset", slog.Int("files", len(stale)))
	return nil
}

// BulkApply applies a batch of operations to every underlying store.
// Upserts and deletes are keyed by path, so re-applying a batch after
// a retried flush converges to the same state.
func (c *CompositeIndex) BulkApply(ctx context.Context, ops []BatchOperation) error {
	if len(ops) == 0 {
		return nil
	}

	var upserts []*Document
	var deletes []string
	for _, op := range ops {
		switch op.Type {
		case OpUpsert:
			if op.Doc == nil {
				return fmt.Errorf("upsert for %s has no document", op.Path)
			}
			upserts = append(upserts, op.Doc)
		case OpDelete:
			deletes = append(deletes, op.Path)
		}
	}

	if err := c.meta.UpsertFiles(ctx, upserts); err != nil {
		return err
	}
	if err := c.meta.DeleteFiles(ctx, deletes); err != nil {
		return err
	}

	if err := c.lexical.Apply(upserts, deletes); err != nil {
		return err
	}

	if err := c.applyVectors(upserts, deletes); err != nil {
		return err
	}

	return nil
}

// applyVectors routes embeddings to their modality store. An upsert
// without a vector clears any stale vector for that path, so a file
// that degraded (embedding service down) does not keep serving its old
// embedding.
func (c *CompositeIndex) applyVectors(upserts []*Document, deletes []string) error {
	var textPaths []string
	var textVecs [][]float32
	var textStale []string
	var imagePaths []string
	var imageVecs [][]float32
	var imageStale []string

	for _, doc := range upserts {
		if len(doc.TextEmbedding) > 0 {
			textPaths = append(textPaths, doc.Path)
			textVecs = append(textVecs, doc.TextEmbedding)
		} else {
			textStale = append(textStale, doc.Path)
		}

		if doc.Image != nil && len(doc.Image.Embedding) > 0 {
			imagePaths = append(imagePaths, doc.Path)
			imageVecs = append(imageVecs, doc.Image.Embedding)
		} else {
			imageStale = append(imageStale, doc.Path)
		}
	}

	if err := c.textVecs.Add(textPaths, textVecs); err != nil {
		return err
	}
	if err := c.textVecs.Delete(append(textStale, deletes...)); err != nil {
		return err
	}
	if err := c.imageVecs.Add(imagePaths, imageVecs); err != nil {
		return err
	}
	if err := c.imageVecs.Delete(append(imageStale, deletes...)); err != nil {
		return err
	}
	return nil
}

// List streams all file records from the metadata store.
func (c *CompositeIndex) List(ctx context.Context, fn func(FileRecord) error) error {
	return c.meta.List(ctx, fn)
}

// Stats returns document count and the on-disk size of the index.
func (c *CompositeIndex) Stats(ctx context.Context) (Stats, error) {
	count, err := c.meta.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	var size int64
	if c.dir != "" {
		size = dirSize(c.dir)
	}
	return Stats{DocCount: count, IndexSize: size}, nil
}

// DeleteAll clears every underlying store.
func (c *CompositeIndex) DeleteAll(ctx context.Context) error {
	if err := c.meta.DeleteAll(ctx); err != nil {
		return err
	}
	if err := c.lexical.DeleteAll(); err != nil {
		return err
	}
	if err := c.textVecs.DeleteAll(); err != nil {
		return err
	}
	if err := c.imageVecs.DeleteAll(); err != nil {
		return err
	}
	return c.Flush(ctx)
}

// Flush persists the vector graphs. SQLite and Bleve write through on
// every batch; HNSW lives in memory and only hits disk here.
func (c *CompositeIndex) Flush(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}
	if err := c.textVecs.Save(filepath.Join(c.dir, textVecFile)); err != nil {
		return fmt.Errorf("failed to save text vectors: %w", err)
	}
	if err := c.imageVecs.Save(filepath.Join(c.dir, imageVecFile)); err != nil {
		return fmt.Errorf("failed to save image vectors: %w", err)
	}
	return nil
}

// Close flushes vectors and closes every store.
func (c *CompositeIndex) Close() error {
	if err := c.Flush(context.Background()); err != nil {
		c.logger.Warn("vector_flush_failed", slog.String("error", err.Error()))
	}

	var firstErr error
	for _, closer := range []func() error{
		c.textVecs.Close,
		c.imageVecs.Close,
		c.lexical.Close,
		c.meta.Close,
	} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dirSize sums file sizes under root. Errors are treated as zero; the
// number feeds a statistics endpoint, not accounting.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
