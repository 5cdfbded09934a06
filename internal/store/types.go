// Package store implements the embedded search backend: file metadata
// in SQLite, lexical search in Bleve, and vectors in per-modality HNSW
// graphs, composed behind the Index interface the pipeline consumes.
package store

import (
	"context"
)

// OpType distinguishes batch operation kinds.
type OpType int

const (
	// OpUpsert inserts or replaces a document keyed by path.
	OpUpsert OpType = iota
	// OpDelete removes a document by path.
	OpDelete
)

// BatchOperation is a single unit of work applied to the index.
// Delete operations carry only the path.
type BatchOperation struct {
	Type OpType
	Path string
	Doc  *Document
}

// Document is the indexed representation of one file.
type Document struct {
	// Path is the absolute file path, also the document ID.
	Path string `json:"path"`

	// Hash is the hex-encoded SHA-256 of the file contents.
	Hash string `json:"hash"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Modified is the mtime as unix seconds.
	Modified int64 `json:"modified"`

	// ContentType is the detected MIME essence (e.g. "application/pdf").
	ContentType string `json:"content_type"`

	// Content is the extracted text, empty for files with none.
	Content string `json:"content,omitempty"`

	// TextEmbedding is the MiniLM vector over the content, nil when the
	// text modality is disabled or embedding failed.
	TextEmbedding []float32 `json:"-"`

	// Image holds image-specific metadata, nil for non-images.
	Image *ImageData `json:"image,omitempty"`

	// Document holds office/PDF metadata, nil otherwise.
	Document *DocumentData `json:"document,omitempty"`

	// Multimedia holds audio/video metadata, nil otherwise.
	Multimedia *MultimediaData `json:"multimedia,omitempty"`
}

// ImageData is metadata extracted from image files.
type ImageData struct {
	// Embedding is the CLIP vector, nil when the image modality is
	// disabled or embedding failed.
	Embedding []float32 `json:"-"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

// DocumentData is metadata extracted from office documents and PDFs.
type DocumentData struct {
	Title       string `json:"title,omitempty"`
	Creator     string `json:"creator,omitempty"`
	DocCreated  int64  `json:"doc_created,omitempty"`
	DocModified int64  `json:"doc_modified,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	Words       int    `json:"words,omitempty"`
	Characters  int    `json:"characters,omitempty"`
}

// MultimediaData is metadata extracted from audio and video files.
type MultimediaData struct {
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Genre    string  `json:"genre,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// FileRecord is the slim per-file view used by the diff engine.
type FileRecord struct {
	Path     string
	Hash     string
	Size     int64
	Modified int64

	// HasTextVec and HasImageVec record which embeddings were stored
	// for the file. They are compared against the loaded vector graphs
	// on startup.
	HasTextVec  bool
	HasImageVec bool
}

// Stats describes the current index contents.
type Stats struct {
	// DocCount is the number of indexed files.
	DocCount int64 `json:"doc_cnt"`

	// IndexSize is the on-disk size of the index in bytes.
	IndexSize int64 `json:"index_size"`
}

// Index is the backend API the indexing pipeline talks to.
type Index interface {
	// BulkApply applies a batch of upserts and deletes atomically enough
	// for at-least-once delivery: re-applying a committed batch is a
	// no-op because upserts and deletes are keyed by path.
	BulkApply(ctx context.Context, ops []BatchOperation) error

	// List streams every file record to fn in path order. A non-nil
	// error from fn aborts the scroll and is returned.
	List(ctx context.Context, fn func(FileRecord) error) error

	// Stats returns document count and on-disk size.
	Stats(ctx context.Context) (Stats, error)

	// DeleteAll drops every document from all stores.
	DeleteAll(ctx context.Context) error

	// Flush persists any in-memory state to disk.
	Flush(ctx context.Context) error

	// Close flushes and releases all underlying stores.
	Close() error
}
