package service

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"regexp"
	"sync"

	"medirag/loader/extract"
	"medirag/model"
	"medirag/store"
	"medirag/types"
)

// ProgressFunc receives monotonically increasing progress in [0,100] plus a
// human-readable detail line.
type ProgressFunc func(pct int, detail string)

// Builder runs the full ingestion pipeline for a batch of documents:
// extract, chunk, embed, persist. Failures per document degrade the batch,
// never abort it; Run reports overall success as a bool and keeps every
// failure inside the logs and the progress detail.
type Builder struct {
	logger    *slog.Logger
	cfg       Config
	extractor extract.DocumentExtractor
	embedder  model.EmbedderInterface
	store     *store.Store
	splitter  *extract.Splitter

	// AfterBuild runs after a successful run, outside the build lock.
	// Wired to the resource warmup by the server.
	AfterBuild func()

	runMu sync.Mutex // ingestion runs never overlap
}

func NewBuilder(cfg Config, extractor extract.DocumentExtractor, embedder model.EmbedderInterface, st *store.Store) *Builder {
	return &Builder{
		logger:    slog.Default(),
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		store:     st,
		splitter:  extract.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
	}
}

// Run ingests paths into a fresh index generation. It never panics out and
// never returns an error: callers only need the bool. Progress weights:
// 0-10 setup, 10-30 extraction, 30-80 embedding, 80-100 persistence and
// verification.
func (b *Builder) Run(ctx context.Context, paths []string, progress ProgressFunc) bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	report := monotonic(progress)

	if len(paths) == 0 {
		b.logger.Warn("ingestion run with no documents")
		report(0, "no documents provided")
		return false
	}
	if b.embedder == nil {
		b.logger.Error("embedding model unavailable, cannot ingest")
		report(0, "embedding model unavailable")
		return false
	}

	report(5, "starting ingestion")

	chunks := b.extractAll(ctx, paths, report)
	if len(chunks) == 0 {
		b.logger.Error("no content extracted from any document")
		report(30, "no extractable content")
		return false
	}
	report(30, fmt.Sprintf("%d chunks extracted, embedding...", len(chunks)))

	entries, vectors, fulltext := b.embedAll(ctx, chunks, report)

	report(80, "building index")
	if _, err := b.store.Build(entries, vectors, fulltext, b.embedder.ModelID(), b.cfg.IndexKind); err != nil {
		b.logger.Error("index build failed", "error", err)
		report(80, "index build failed")
		return false
	}

	report(90, "verifying index")
	ix, err := b.store.Load()
	if err != nil {
		b.logger.Error("index verification failed", "error", err)
		report(90, "index verification failed")
		return false
	}
	if ix.Len() != len(entries) {
		b.logger.Error("index verification mismatch", "indexed", ix.Len(), "expected", len(entries))
		report(90, "index verification failed")
		return false
	}

	report(100, "ingestion done")
	b.logger.Info("ingestion completed", "documents", len(paths), "chunks", len(entries), "index", b.cfg.IndexKind)

	if b.AfterBuild != nil {
		go b.AfterBuild()
	}
	return true
}

// extractAll fans document extraction out over a bounded worker pool and
// pools all chunks. A failed document is logged and skipped.
func (b *Builder) extractAll(ctx context.Context, paths []string, report ProgressFunc) []types.Chunk {
	workers := b.cfg.Workers
	if workers > len(paths) {
		workers = len(paths)
	}

	type result struct {
		path   string
		chunks []types.Chunk
	}

	pathCh := make(chan string)
	resCh := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range pathCh {
				resCh <- result{path: path, chunks: b.extractOne(ctx, path)}
			}
		}()
	}
	go func() {
		for _, p := range paths {
			pathCh <- p
		}
		close(pathCh)
		wg.Wait()
		close(resCh)
	}()

	var all []types.Chunk
	done := 0
	for res := range resCh {
		done++
		if len(res.chunks) == 0 {
			log.Printf("[INGEST] no chunks produced for %s", res.path)
		} else {
			all = append(all, res.chunks...)
		}
		report(10+20*done/len(paths), fmt.Sprintf("extracting documents (%d/%d)", done, len(paths)))
	}
	return all
}

func (b *Builder) extractOne(ctx context.Context, path string) []types.Chunk {
	units, err := b.extractor.Extract(ctx, path)
	if err != nil {
		log.Printf("[INGEST] skipping %s: %v", path, err)
		return nil
	}

	var chunks []types.Chunk
	for _, unit := range units {
		for _, text := range b.splitter.Split(unit.Text) {
			chunks = append(chunks, types.Chunk{Text: text, Metadata: unit.Metadata})
		}
	}
	return chunks
}

var docIDUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// embedAll assigns doc_ids, snippets and full text, then embeds snippets in
// batches with the per-item zero-vector fallback.
func (b *Builder) embedAll(ctx context.Context, chunks []types.Chunk, report ProgressFunc) ([]types.IndexedEntry, [][]float32, map[string]string) {
	entries := make([]types.IndexedEntry, 0, len(chunks))
	fulltext := make(map[string]string, len(chunks))
	snippets := make([]string, 0, len(chunks))

	for i, c := range chunks {
		name := docIDUnsafe.ReplaceAllString(c.Metadata.DisplayName, "-")
		docID := fmt.Sprintf("%s_p%d_i%d", name, c.Metadata.Page, i)

		snippet := c.Text
		if len(snippet) > 800 {
			snippet = snippet[:800]
		}

		entries = append(entries, types.IndexedEntry{
			DocID:       docID,
			Snippet:     snippet,
			Source:      c.Metadata.Source,
			DisplayName: c.Metadata.DisplayName,
			Page:        c.Metadata.Page,
			OCR:         c.Metadata.OCR,
		})
		fulltext[docID] = c.Text
		snippets = append(snippets, snippet)
	}

	batch := b.cfg.EmbedBatchSize
	if batch <= 0 {
		batch = 32
	}

	vectors := make([][]float32, 0, len(snippets))
	degraded := 0
	for start := 0; start < len(snippets); start += batch {
		end := start + batch
		if end > len(snippets) {
			end = len(snippets)
		}
		vecs, failed := model.EmbedAll(ctx, b.embedder, snippets[start:end], batch)
		vectors = append(vectors, vecs...)
		degraded += failed
		report(30+50*end/len(snippets), fmt.Sprintf("embedding chunks (%d/%d)", end, len(snippets)))
	}
	if degraded > 0 {
		b.logger.Warn("some chunks degraded to zero vectors", "count", degraded)
	}

	return entries, vectors, fulltext
}

// monotonic wraps a progress callback so published percentages never move
// backwards and stay within [0,100].
func monotonic(fn ProgressFunc) ProgressFunc {
	last := 0
	return func(pct int, detail string) {
		if pct > 100 {
			pct = 100
		}
		if pct > last {
			last = pct
		}
		if fn != nil {
			fn(last, detail)
		}
	}
}
