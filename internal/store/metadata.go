package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// listPageSize is the number of rows fetched per scroll page.
const listPageSize = 1000

// MetadataStore keeps per-file metadata in SQLite. It is the source of
// truth the diff engine compares the filesystem against.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS files (
	path            TEXT PRIMARY KEY,
	hash            TEXT NOT NULL,
	size            INTEGER NOT NULL,
	modified        INTEGER NOT NULL,
	content_type    TEXT NOT NULL DEFAULT '',
	has_text_vec    INTEGER NOT NULL DEFAULT 0,
	has_image_vec   INTEGER NOT NULL DEFAULT 0,
	image_width     INTEGER,
	image_height    INTEGER,
	doc_title       TEXT,
	doc_creator     TEXT,
	doc_created     INTEGER,
	doc_modified    INTEGER,
	doc_pages       INTEGER,
	doc_words       INTEGER,
	doc_characters  INTEGER,
	media_artist    TEXT,
	media_album     TEXT,
	media_genre     TEXT,
	media_duration  REAL
);
`

// NewMetadataStore opens (or creates) the metadata database at path.
// An empty path creates an in-memory store for testing.
func NewMetadataStore(path string) (*MetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MetadataStore{db: db, path: path}, nil
}

// UpsertFiles inserts or replaces documents keyed by path in one
// transaction.
func (m *MetadataStore) UpsertFiles(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (
			path, hash, size, modified, content_type,
			has_text_vec, has_image_vec,
			image_width, image_height,
			doc_title, doc_creator, doc_created, doc_modified,
			doc_pages, doc_words, doc_characters,
			media_artist, media_album, media_genre, media_duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size,
			modified = excluded.modified,
			content_type = excluded.content_type,
			has_text_vec = excluded.has_text_vec,
			has_image_vec = excluded.has_image_vec,
			image_width = excluded.image_width,
			image_height = excluded.image_height,
			doc_title = excluded.doc_title,
			doc_creator = excluded.doc_creator,
			doc_created = excluded.doc_created,
			doc_modified = excluded.doc_modified,
			doc_pages = excluded.doc_pages,
			doc_words = excluded.doc_words,
			doc_characters = excluded.doc_characters,
			media_artist = excluded.media_artist,
			media_album = excluded.media_album,
			media_genre = excluded.media_genre,
			media_duration = excluded.media_duration`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, doc := range docs {
		args := upsertArgs(doc)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", doc.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upserts: %w", err)
	}
	return nil
}

func upsertArgs(doc *Document) []any {
	hasText := 0
	if len(doc.TextEmbedding) > 0 {
		hasText = 1
	}
	hasImage := 0

	var imgWidth, imgHeight any
	if doc.Image != nil {
		if len(doc.Image.Embedding) > 0 {
			hasImage = 1
		}
		imgWidth, imgHeight = doc.Image.Width, doc.Image.Height
	}

	var docTitle, docCreator, docCreated, docModified, docPages, docWords, docChars any
	if doc.Document != nil {
		docTitle = doc.Document.Title
		docCreator = doc.Document.Creator
		docCreated = doc.Document.DocCreated
		docModified = doc.Document.DocModified
		docPages = doc.Document.Pages
		docWords = doc.Document.Words
		docChars = doc.Document.Characters
	}

	var artist, album, genre, duration any
	if doc.Multimedia != nil {
		artist = doc.Multimedia.Artist
		album = doc.Multimedia.Album
		genre = doc.Multimedia.Genre
		duration = doc.Multimedia.Duration
	}

	return []any{
		doc.Path, doc.Hash, doc.Size, doc.Modified, doc.ContentType,
		hasText, hasImage,
		imgWidth, imgHeight,
		docTitle, docCreator, docCreated, docModified,
		docPages, docWords, docChars,
		artist, album, genre, duration,
	}
}

// DeleteFiles removes documents by path. Missing paths are ignored.
func (m *MetadataStore) DeleteFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM files WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, path := range paths {
		if _, err := stmt.ExecContext(ctx, path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletes: %w", err)
	}
	return nil
}

// List streams every record to fn in path order, scrolling with a
// keyset cursor so the whole table never sits in memory at once.
func (m *MetadataStore) List(ctx context.Context, fn func(FileRecord) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	cursor := ""
	for {
		records, err := m.listPage(ctx, cursor)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		cursor = records[len(records)-1].Path
	}
}

func (m *MetadataStore) listPage(ctx context.Context, cursor string) ([]FileRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT path, hash, size, modified, has_text_vec, has_image_vec FROM files
		WHERE path > ? ORDER BY path LIMIT ?`, cursor, listPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		var hasText, hasImage int
		if err := rows.Scan(&rec.Path, &rec.Hash, &rec.Size, &rec.Modified, &hasText, &hasImage); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		rec.HasTextVec = hasText != 0
		rec.HasImageVec = hasImage != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InvalidateVectors clears the vector flags and the stored mtime for
// paths. The reset mtime can no longer match the file on disk, so the
// next diff re-processes those files and regenerates their embeddings.
func (m *MetadataStore) InvalidateVectors(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE files SET modified = 0, has_text_vec = 0, has_image_vec = 0
		WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare invalidate: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, path := range paths {
		if _, err := stmt.ExecContext(ctx, path); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invalidate: %w", err)
	}
	return nil
}

// Count returns the number of indexed files.
func (m *MetadataStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	var count int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// DeleteAll drops every record.
func (m *MetadataStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}
	return nil
}

// Close closes the database.
func (m *MetadataStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
