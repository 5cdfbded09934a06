// Package embed calls the neural embedding server and caches vectors
// by content hash.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
)

// cacheSize bounds the embedding cache. Vectors are small (384 or 512
// float32), so even a full cache stays in the low tens of megabytes.
const cacheSize = 10000

// Endpoints on the embedding server.
const (
	endpointTextMiniLM = "/minilm/text"
	endpointImageCLIP  = "/clip/image"
)

// Client talks to the embedding server. Results are cached by content
// hash, so re-indexing an unchanged-but-touched file never recomputes
// its vector.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
	retryCfg   errors.RetryConfig
	logger     *slog.Logger
}

// NewClient creates an embedding client. The timeout bounds each HTTP
// call, not the whole retry sequence.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	retryCfg := errors.DefaultRetryConfig()
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.Jitter = true

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retryCfg:   retryCfg,
		logger:     logger,
	}, nil
}

// TextEmbedding returns the MiniLM sentence embedding for text.
// hash is the content hash used as the cache key.
func (c *Client) TextEmbedding(ctx context.Context, hash, text string, params config.ModelParams) ([]float32, error) {
	return c.embed(ctx, endpointTextMiniLM, hash, []byte(text), "text/plain", params)
}

// ImageEmbedding returns the CLIP embedding for raw image bytes.
func (c *Client) ImageEmbedding(ctx context.Context, hash string, data []byte, params config.ModelParams) ([]float32, error) {
	return c.embed(ctx, endpointImageCLIP, hash, data, "application/octet-stream", params)
}

func (c *Client) embed(ctx context.Context, endpoint, hash string, body []byte, contentType string, params config.ModelParams) ([]float32, error) {
	cacheKey := endpoint + ":" + hash
	if vec, ok := c.cache.Get(cacheKey); ok {
		return vec, nil
	}

	vec, err := c.call(ctx, endpoint, body, contentType, params)
	if err != nil && errors.IsRetryable(err) {
		vec, err = errors.RetryWithResult(ctx, c.retryCfg, func() ([]float32, error) {
			return c.call(ctx, endpoint, body, contentType, params)
		})
	}
	if err != nil {
		return nil, err
	}

	c.cache.Add(cacheKey, vec)
	return vec, nil
}

// call performs one HTTP round trip to the embedding server.
func (c *Client) call(ctx context.Context, endpoint string, body []byte, contentType string, params config.ModelParams) ([]float32, error) {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}

	q := u.Query()
	if params.BatchSize > 0 {
		q.Set("batch_size", strconv.Itoa(params.BatchSize))
	}
	if params.MaxDelayMS > 0 {
		q.Set("max_delay_ms", strconv.Itoa(params.MaxDelayMS))
	}
	if params.Device != "" {
		q.Set("device", params.Device)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failures and timeouts are worth retrying.
		return nil, errors.Wrap(errors.ErrCodeServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, errors.New(errors.ErrCodeServiceUnavailable,
			fmt.Sprintf("embedding server returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding server returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeServiceUnavailable, err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}
	if len(vec) == 0 {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedding server returned an empty vector", nil)
	}
	return vec, nil
}
