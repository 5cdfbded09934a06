package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// LexicalIndex wraps Bleve v2 for full-text search over extracted
// content and document metadata.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// lexicalDocument is the shape handed to Bleve. Only searchable text
// fields are indexed here; everything else lives in the metadata store.
type lexicalDocument struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Title    string `json:"title,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Genre    string `json:"genre,omitempty"`
}

// validateIndexIntegrity checks a Bleve index before opening so a
// half-written index from a crashed run is cleared instead of wedging
// every subsequent start.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewLexicalIndex creates or opens the lexical index at path.
// An empty path creates an in-memory index for testing.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	indexMapping := createLexicalMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &LexicalIndex{index: idx, path: path}, nil
}

func createLexicalMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Apply indexes upserts and removes deletes in a single Bleve batch.
func (l *LexicalIndex) Apply(upserts []*Document, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, doc := range upserts {
		if err := batch.Index(doc.Path, toLexicalDocument(doc)); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.Path, err)
		}
	}
	for _, path := range deletes {
		batch.Delete(path)
	}

	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func toLexicalDocument(doc *Document) lexicalDocument {
	out := lexicalDocument{
		Path:    doc.Path,
		Content: doc.Content,
	}
	if doc.Document != nil {
		out.Title = doc.Document.Title
		out.Creator = doc.Document.Creator
	}
	if doc.Multimedia != nil {
		out.Artist = doc.Multimedia.Artist
		out.Album = doc.Multimedia.Album
		out.Genre = doc.Multimedia.Genre
	}
	return out
}

// Count returns the number of indexed documents.
func (l *LexicalIndex) Count() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}
	return l.index.DocCount()
}

// DeleteAll drops the whole index and recreates it empty.
func (l *LexicalIndex) DeleteAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	if err := l.index.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	indexMapping := createLexicalMapping()
	if l.path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return fmt.Errorf("failed to recreate index: %w", err)
		}
		l.index = idx
		return nil
	}

	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("failed to remove index: %w", err)
	}
	idx, err := bleve.New(l.path, indexMapping)
	if err != nil {
		return fmt.Errorf("failed to recreate index: %w", err)
	}
	l.index = idx
	return nil
}

// Close releases the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
