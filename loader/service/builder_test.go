package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medirag/store"
	"medirag/types"
)

type fakeExtractor struct {
	failPaths map[string]bool
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) ([]types.Chunk, error) {
	if f.failPaths[path] {
		return nil, fmt.Errorf("cannot open %s", path)
	}
	name := strings.TrimSuffix(path, ".pdf")
	return []types.Chunk{
		{
			Text: "Page one talks about dosage and interactions of the compound. " + name,
			Metadata: types.ChunkMetadata{
				Source:      path,
				DisplayName: name,
				Page:        1,
			},
		},
		{
			Text: "Page two covers side effects in detail. " + name,
			Metadata: types.ChunkMetadata{
				Source:      path,
				DisplayName: name,
				Page:        2,
			},
		},
	}, nil
}

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) ModelID() string { return "stub-embed" }
func (s *stubEmbedder) Dim() int        { return s.dim }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	v[len(text)%s.dim] = 1
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func testBuilder(t *testing.T, extractor *fakeExtractor) (*Builder, *store.Store) {
	t.Helper()
	cfg := Config{
		StoreDir:       t.TempDir(),
		SourceDir:      t.TempDir(),
		ChunkSize:      200,
		ChunkOverlap:   20,
		EmbedBatchSize: 4,
		Workers:        2,
		IndexKind:      store.IndexFlat,
	}
	st := store.NewStore(cfg.StoreDir)
	return NewBuilder(cfg, extractor, &stubEmbedder{dim: 8}, st), st
}

func TestBuilderRunBuildsLoadableIndex(t *testing.T) {
	b, st := testBuilder(t, &fakeExtractor{})

	var mu sync.Mutex
	var percents []int
	ok := b.Run(context.Background(), []string{"a.pdf", "b.pdf"}, func(pct int, detail string) {
		mu.Lock()
		percents = append(percents, pct)
		mu.Unlock()
	})
	require.True(t, ok)

	ix, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, "stub-embed", ix.Manifest.EmbedModel)

	// doc_id carries name, page and counter; full text exists per entry.
	for _, e := range ix.Entries {
		assert.Regexp(t, `_p\d+_i\d+$`, e.DocID)
		text, err := st.Fulltext(e.DocID)
		require.NoError(t, err)
		assert.NotEmpty(t, text)
	}

	// Progress is monotonic and ends at 100.
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestBuilderRunFailsWithNoPaths(t *testing.T) {
	b, st := testBuilder(t, &fakeExtractor{})
	ok := b.Run(context.Background(), nil, nil)
	assert.False(t, ok)

	_, err := st.Load()
	assert.ErrorIs(t, err, store.ErrNoIndex)
}

func TestBuilderSkipsFailedDocuments(t *testing.T) {
	b, st := testBuilder(t, &fakeExtractor{failPaths: map[string]bool{"broken.pdf": true}})

	ok := b.Run(context.Background(), []string{"good.pdf", "broken.pdf"}, nil)
	require.True(t, ok)

	ix, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
	for _, e := range ix.Entries {
		assert.Equal(t, "good.pdf", e.Source)
	}
}

func TestBuilderFailsWhenNothingExtracts(t *testing.T) {
	b, st := testBuilder(t, &fakeExtractor{failPaths: map[string]bool{"broken.pdf": true}})
	ok := b.Run(context.Background(), []string{"broken.pdf"}, nil)
	assert.False(t, ok)

	_, err := st.Load()
	assert.ErrorIs(t, err, store.ErrNoIndex)
}

func TestBuilderRunsAfterBuildHook(t *testing.T) {
	b, _ := testBuilder(t, &fakeExtractor{})

	called := make(chan struct{})
	b.AfterBuild = func() { close(called) }

	require.True(t, b.Run(context.Background(), []string{"a.pdf"}, nil))
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("AfterBuild hook did not run")
	}
}

type twoPageExtractor struct{}

func (twoPageExtractor) Extract(ctx context.Context, path string) ([]types.Chunk, error) {
	page := func(n int) types.Chunk {
		return types.Chunk{
			Text:     strings.Repeat(fmt.Sprintf("Sentence on page %d. ", n), 50)[:1000],
			Metadata: types.ChunkMetadata{Source: path, DisplayName: "doc", Page: n},
		}
	}
	return []types.Chunk{page(1), page(2)}, nil
}

func TestBuilderChunksEveryPageOfDocument(t *testing.T) {
	cfg := Config{
		StoreDir:       t.TempDir(),
		SourceDir:      t.TempDir(),
		ChunkSize:      800,
		ChunkOverlap:   120,
		EmbedBatchSize: 8,
		Workers:        1,
		IndexKind:      store.IndexFlat,
	}
	st := store.NewStore(cfg.StoreDir)
	b := NewBuilder(cfg, twoPageExtractor{}, &stubEmbedder{dim: 8}, st)

	require.True(t, b.Run(context.Background(), []string{"report.pdf"}, nil))

	ix, err := st.Load()
	require.NoError(t, err)

	pages := map[int]int{}
	for _, e := range ix.Entries {
		assert.NotEmpty(t, e.Snippet)
		pages[e.Page]++
		text, err := st.Fulltext(e.DocID)
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(text))
	}
	// 1000 chars per page at size 800 means both pages split into multiple
	// chunks and both page numbers survive into the index.
	assert.Len(t, pages, 2)
	assert.GreaterOrEqual(t, pages[1], 2)
	assert.GreaterOrEqual(t, pages[2], 2)
}

func TestFailedRunLeavesPriorGenerationUntouched(t *testing.T) {
	b, st := testBuilder(t, &fakeExtractor{failPaths: map[string]bool{"broken.pdf": true}})

	require.True(t, b.Run(context.Background(), []string{"keep.pdf"}, nil))
	before, err := st.Load()
	require.NoError(t, err)

	// Both failure shapes: empty batch and nothing extractable.
	assert.False(t, b.Run(context.Background(), nil, nil))
	assert.False(t, b.Run(context.Background(), []string{"broken.pdf"}, nil))

	after, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, before.Manifest, after.Manifest)
	assert.Equal(t, before.Len(), after.Len())
}

func TestMonotonicClampsAndNeverRegresses(t *testing.T) {
	var got []int
	report := monotonic(func(pct int, detail string) { got = append(got, pct) })

	report(10, "")
	report(5, "")
	report(50, "")
	report(200, "")

	assert.Equal(t, []int{10, 10, 50, 100}, got)
}
