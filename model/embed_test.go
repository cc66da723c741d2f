package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder fails whole batches and, optionally, single texts by content.
type fakeEmbedder struct {
	dim        int
	failBatch  bool
	failTexts  map[string]bool
	batchCalls int
	embedCalls int
}

func (f *fakeEmbedder) ModelID() string { return "fake-model" }
func (f *fakeEmbedder) Dim() int        { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	if f.failTexts[text] {
		return nil, fmt.Errorf("cannot embed %q", text)
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.failBatch {
		return nil, fmt.Errorf("batch backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func TestEmbedAllUsesBatches(t *testing.T) {
	f := &fakeEmbedder{dim: 3}
	texts := []string{"a", "b", "c", "d", "e"}

	vectors, degraded := EmbedAll(context.Background(), f, texts, 2)
	require.Len(t, vectors, 5)
	assert.Zero(t, degraded)
	assert.Equal(t, 3, f.batchCalls)
	assert.Zero(t, f.embedCalls)
}

func TestEmbedAllFallsBackToSingleOnBatchFailure(t *testing.T) {
	f := &fakeEmbedder{dim: 3, failBatch: true}
	texts := []string{"a", "b", "c"}

	vectors, degraded := EmbedAll(context.Background(), f, texts, 8)
	require.Len(t, vectors, 3)
	assert.Zero(t, degraded)
	assert.Equal(t, 3, f.embedCalls)
}

func TestEmbedAllDegradesFailedTextToZeroVector(t *testing.T) {
	f := &fakeEmbedder{dim: 3, failBatch: true, failTexts: map[string]bool{"bad": true}}
	texts := []string{"good", "bad", "also good"}

	vectors, degraded := EmbedAll(context.Background(), f, texts, 8)
	require.Len(t, vectors, 3)
	assert.Equal(t, 1, degraded)
	assert.Equal(t, []float32{0, 0, 0}, vectors[1])
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])
}

func TestNewOpenAIEmbedderValidatesConfig(t *testing.T) {
	t.Setenv("EMBED_MODEL", "")
	t.Setenv("EMBED_DIM", "4")
	_, err := NewOpenAIEmbedder()
	assert.Error(t, err)

	t.Setenv("EMBED_MODEL", "test-embed")
	t.Setenv("EMBED_DIM", "0")
	_, err = NewOpenAIEmbedder()
	assert.Error(t, err)

	t.Setenv("EMBED_DIM", "4")
	e, err := NewOpenAIEmbedder()
	require.NoError(t, err)
	assert.Equal(t, "test-embed", e.ModelID())
	assert.Equal(t, 4, e.Dim())
}

func TestEmbedBatchNormalizesVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		fmt.Fprint(w, `{"data":[{"embedding":[3,4,0,0]},{"embedding":[0,0,0,2]}]}`)
	}))
	defer srv.Close()

	t.Setenv("EMBED_BASE_URL", srv.URL)
	t.Setenv("EMBED_API_KEY", "test-key")
	t.Setenv("EMBED_MODEL", "test-embed")
	t.Setenv("EMBED_DIM", "4")

	e, err := NewOpenAIEmbedder()
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
	assert.InDelta(t, 1.0, vecs[1][3], 1e-6)
}

func TestEmbedBatchRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	t.Setenv("EMBED_BASE_URL", srv.URL)
	t.Setenv("EMBED_MODEL", "test-embed")
	t.Setenv("EMBED_DIM", "4")

	e, err := NewOpenAIEmbedder()
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}
