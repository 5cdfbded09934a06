// Package extract calls the content-extraction service (a Tika-style
// server) and maps its metadata onto typed groups.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/store"
)

// Result is the outcome of extracting one file.
type Result struct {
	// Content is the extracted plain text, may be empty.
	Content string

	// ContentType is the detected MIME essence (no parameters).
	ContentType string

	// Image, Document, Multimedia are set when the MIME type matches
	// the group; at most one is non-nil.
	Image      *store.ImageData
	Document   *store.DocumentData
	Multimedia *store.MultimediaData
}

// Client talks to the extraction server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an extraction client. The timeout bounds every
// extraction call.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Extract sends file bytes to the extraction server and returns the
// text plus typed metadata. Empty files never hit the server; they
// resolve to a content type guessed from the extension.
func (c *Client) Extract(ctx context.Context, path string, data []byte) (*Result, error) {
	if len(data) == 0 {
		return &Result{ContentType: guessContentType(path)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/rmeta/text", bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, err).WithPath(path)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/octet-stream")
	// Embedded resources (attachments, archive members) are not
	// separate documents here.
	req.Header.Set("maxEmbeddedResources", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, err).WithPath(path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrCodeExtractionFailed,
			fmt.Sprintf("extraction server returned %d", resp.StatusCode), nil).WithPath(path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, err).WithPath(path)
	}

	var meta []map[string]any
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, err).WithPath(path)
	}
	if len(meta) == 0 {
		return nil, errors.New(errors.ErrCodeExtractionFailed,
			"extraction server returned an empty document list", nil).WithPath(path)
	}

	return parseResult(path, meta[0]), nil
}

// parseResult maps the raw key/value metadata of the main document
// onto a Result.
func parseResult(path string, raw map[string]any) *Result {
	result := &Result{
		Content:     strings.TrimSpace(stringValue(raw, "X-TIKA:content")),
		ContentType: mimeEssence(stringValue(raw, "Content-Type")),
	}
	if result.ContentType == "" {
		result.ContentType = guessContentType(path)
	}

	switch group(result.ContentType) {
	case "image":
		result.Image = &store.ImageData{
			Width:  intValue(raw, "tiff:ImageWidth"),
			Height: intValue(raw, "tiff:ImageLength"),
		}
	case "document":
		result.Document = &store.DocumentData{
			Title:       stringValue(raw, "dc:title"),
			Creator:     stringValue(raw, "dc:creator"),
			DocCreated:  timeValue(raw, "dcterms:created"),
			DocModified: timeValue(raw, "dcterms:modified"),
			Pages:       intValue(raw, "xmpTPg:NPages"),
			Words:       intValue(raw, "meta:word-count"),
			Characters:  intValue(raw, "meta:character-count"),
		}
	case "multimedia":
		result.Multimedia = &store.MultimediaData{
			Artist:   stringValue(raw, "xmpDM:artist"),
			Album:    stringValue(raw, "xmpDM:album"),
			Genre:    stringValue(raw, "xmpDM:genre"),
			Duration: floatValue(raw, "xmpDM:duration"),
			Width:    intValue(raw, "tiff:ImageWidth"),
			Height:   intValue(raw, "tiff:ImageLength"),
		}
	}

	return result
}

// group buckets a MIME essence into a metadata group.
func group(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"), strings.HasPrefix(contentType, "video/"):
		return "multimedia"
	case contentType == "application/pdf",
		strings.HasPrefix(contentType, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(contentType, "application/vnd.oasis.opendocument"),
		contentType == "application/msword",
		contentType == "application/vnd.ms-excel",
		contentType == "application/vnd.ms-powerpoint":
		return "document"
	default:
		return ""
	}
}

// mimeEssence strips MIME parameters ("text/plain; charset=UTF-8").
func mimeEssence(contentType string) string {
	essence, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return essence
}

// guessContentType falls back to the file extension. Unknown
// extensions resolve to text/plain so the file still gets indexed by
// name.
func guessContentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return mimeEssence(t)
	}
	return "text/plain"
}

func stringValue(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func intValue(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatValue(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func timeValue(raw map[string]any, key string) int64 {
	s := stringValue(raw, key)
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Unix()
		}
	}
	return 0
}
