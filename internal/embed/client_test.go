package embed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, time.Second, logging.Discard())
	require.NoError(t, err)
	// Keep test runs fast when retries kick in.
	c.retryCfg.InitialDelay = time.Millisecond
	c.retryCfg.MaxDelay = 2 * time.Millisecond
	return c
}

func textParams() config.ModelParams {
	return config.ModelParams{Device: "cpu", BatchSize: 8, MaxDelayMS: 100}
}

func TestTextEmbedding_SendsExpectedRequest(t *testing.T) {
	var gotPath, gotBody string
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`[0.1, 0.2, 0.3]`))
	})

	vec, err := c.TextEmbedding(context.Background(), "hash1", "some text", textParams())
	require.NoError(t, err)

	assert.Equal(t, "/minilm/text", gotPath)
	assert.Equal(t, []string{"8"}, gotQuery["batch_size"])
	assert.Equal(t, []string{"100"}, gotQuery["max_delay_ms"])
	assert.Equal(t, []string{"cpu"}, gotQuery["device"])
	assert.Equal(t, "some text", gotBody)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestImageEmbedding_PostsRawBytes(t *testing.T) {
	var gotPath, gotContentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`[1, 0]`))
	})

	vec, err := c.ImageEmbedding(context.Background(), "hash2", []byte{0xFF, 0xD8}, textParams())
	require.NoError(t, err)

	assert.Equal(t, "/clip/image", gotPath)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Len(t, vec, 2)
}

func TestEmbedding_CachesByHash(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[0.1]`))
	})

	ctx := context.Background()
	_, err := c.TextEmbedding(ctx, "same-hash", "text", textParams())
	require.NoError(t, err)
	_, err = c.TextEmbedding(ctx, "same-hash", "text", textParams())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "second call must come from the cache")
}

func TestEmbedding_CacheIsPerEndpoint(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[0.1]`))
	})

	ctx := context.Background()
	_, err := c.TextEmbedding(ctx, "h", "text", textParams())
	require.NoError(t, err)
	_, err = c.ImageEmbedding(ctx, "h", []byte("text"), textParams())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "same hash on another endpoint is a distinct cache entry")
}

func TestEmbedding_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[0.9]`))
	})

	vec, err := c.TextEmbedding(context.Background(), "h", "text", textParams())
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9}, vec)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestEmbedding_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.TextEmbedding(context.Background(), "h", "text", textParams())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are permanent, no retry")
}

func TestEmbedding_EmptyVectorIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.TextEmbedding(context.Background(), "h", "text", textParams())
	assert.Error(t, err)
}
