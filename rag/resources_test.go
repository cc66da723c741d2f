package rag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medirag/store"
	"medirag/types"
)

func builtStore(t *testing.T, embedModel string) *store.Store {
	t.Helper()
	st := store.NewStore(t.TempDir())
	entries := []types.IndexedEntry{{
		DocID:       "doc_p1_i0",
		Snippet:     "snippet",
		Source:      "/data/doc.pdf",
		DisplayName: "doc",
		Page:        1,
	}}
	_, err := st.Build(entries, [][]float32{{1, 0, 0, 0}}, map[string]string{"doc_p1_i0": "full text"}, embedModel, store.IndexFlat)
	require.NoError(t, err)
	return st
}

func TestEmbedderFailureIsCachedUntilReset(t *testing.T) {
	t.Setenv("EMBED_MODEL", "")
	t.Setenv("EMBED_DIM", "4")

	res := NewResources(store.NewStore(t.TempDir()))
	_, err := res.Embedder()
	require.ErrorIs(t, err, ErrNotReady)

	// Fixing the environment alone changes nothing: the failure is cached.
	t.Setenv("EMBED_MODEL", "stub-embed")
	_, err = res.Embedder()
	assert.ErrorIs(t, err, ErrNotReady)

	res.Reset()
	embedder, err := res.Embedder()
	require.NoError(t, err)
	assert.Equal(t, "stub-embed", embedder.ModelID())
}

func TestWarmupForceRetriesCachedFailures(t *testing.T) {
	t.Setenv("EMBED_MODEL", "")
	t.Setenv("EMBED_DIM", "4")
	t.Setenv("GEN_MODEL", "test-model")
	t.Setenv("GEN_API_KEYS", "k1")

	res := NewResources(builtStore(t, "stub-embed"))
	require.Error(t, res.Warmup(false))

	t.Setenv("EMBED_MODEL", "stub-embed")
	// Without force the cached embedder failure persists.
	require.Error(t, res.Warmup(false))
	assert.NoError(t, res.Warmup(true))

	status := res.Status()
	assert.True(t, status["embeddings"])
	assert.True(t, status["vectorstore"])
	assert.True(t, status["llm"])
}

func TestIndexRejectsEmbedModelMismatch(t *testing.T) {
	res := NewResources(builtStore(t, "some-older-model"))
	res.embedder.Store(&embedderSlot{embedder: &stubEmbedder{dim: 4}})

	_, err := res.Index()
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "some-older-model")
}

func TestIndexRejectsDimensionMismatch(t *testing.T) {
	res := NewResources(builtStore(t, "stub-embed"))
	res.embedder.Store(&embedderSlot{embedder: &stubEmbedder{dim: 16}})

	_, err := res.Index()
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "dimension")
}

func TestIndexLoadsMatchingGeneration(t *testing.T) {
	res := NewResources(builtStore(t, "stub-embed"))
	res.embedder.Store(&embedderSlot{embedder: &stubEmbedder{dim: 4}})

	ix, err := res.Index()
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())

	// Second load returns the cached index.
	again, err := res.Index()
	require.NoError(t, err)
	assert.Same(t, ix, again)
}

func TestStatusReflectsOnlyInitializedResources(t *testing.T) {
	res := NewResources(builtStore(t, "stub-embed"))

	status := res.Status()
	assert.False(t, status["embeddings"])
	assert.False(t, status["vectorstore"])
	assert.False(t, status["llm"])

	res.embedder.Store(&embedderSlot{embedder: &stubEmbedder{dim: 4}})
	_, err := res.Index()
	require.NoError(t, err)

	status = res.Status()
	assert.True(t, status["vectorstore"])
	assert.False(t, status["llm"])
}

func TestEmbedderIsConstructedOnce(t *testing.T) {
	t.Setenv("EMBED_MODEL", "stub-embed")
	t.Setenv("EMBED_DIM", "4")

	res := NewResources(store.NewStore(t.TempDir()))

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := res.Embedder()
			if err != nil {
				results[i] = fmt.Sprintf("error: %v", err)
				return
			}
			results[i] = e
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestWarmupAsyncReportsOutcome(t *testing.T) {
	t.Setenv("EMBED_MODEL", "stub-embed")
	t.Setenv("EMBED_DIM", "4")
	t.Setenv("GEN_MODEL", "test-model")
	t.Setenv("GEN_API_KEYS", "k1,k2")

	res := NewResources(builtStore(t, "stub-embed"))
	err := <-res.WarmupAsync(false)
	assert.NoError(t, err)
	assert.True(t, res.Status()["vectorstore"])
}
