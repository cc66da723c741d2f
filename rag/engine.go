package rag

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"medirag/types"
)

const (
	defaultRetrieverK = 6
	defaultFetchK     = 18
	defaultCharBudget = 6000

	snippetPreview = 250
	paragraphWidth = 500
)

// Engine is the query pipeline: retrieve, expand to full text under the
// context budget, prompt the generator, shape the answer. One Engine is
// shared across requests; all per-request state lives on the stack.
type Engine struct {
	logger     *slog.Logger
	res        *Resources
	k          int
	fetchK     int
	charBudget int
}

// NewEngine reads the RETRIEVER_K, FETCH_K and CONTEXT_CHAR_BUDGET knobs.
func NewEngine(res *Resources) *Engine {
	return &Engine{
		logger:     slog.Default(),
		res:        res,
		k:          envInt("RETRIEVER_K", defaultRetrieverK),
		fetchK:     envInt("FETCH_K", defaultFetchK),
		charBudget: envInt("CONTEXT_CHAR_BUDGET", defaultCharBudget),
	}
}

func (e *Engine) Resources() *Resources {
	return e.res
}

// Ready reports whether the engine can answer at all: the index is loaded
// and a generator is configured.
func (e *Engine) Ready() bool {
	if _, err := e.res.Index(); err != nil {
		return false
	}
	_, err := e.res.Generator()
	return err == nil
}

// Retrieve embeds the question and returns the top k entries out of a
// wider fetchK candidate pool, best first. Retrieval never fails a
// request: any error degrades to an empty result and a log line.
func (e *Engine) Retrieve(ctx context.Context, question string) []types.ScoredEntry {
	embedder, err := e.res.Embedder()
	if err != nil {
		e.logger.Error("retrieval skipped, embedder unavailable", "error", err)
		return nil
	}
	index, err := e.res.Index()
	if err != nil {
		e.logger.Error("retrieval skipped, index unavailable", "error", err)
		return nil
	}

	query, err := embedder.Embed(ctx, question)
	if err != nil {
		e.logger.Error("retrieval skipped, cannot embed question", "error", err)
		return nil
	}

	scored := index.Search(query, e.fetchK)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > e.k {
		scored = scored[:e.k]
	}
	return scored
}

// BuildContext expands the retrieved entries to their stored full text and
// concatenates them under the character budget. The last document that
// crosses the budget is cut at the boundary; everything after it is
// dropped. A missing full-text file degrades to the entry's snippet.
func (e *Engine) BuildContext(entries []types.ScoredEntry) string {
	var pieces []string
	total := 0

	for _, se := range entries {
		text, err := e.res.Store().Fulltext(se.Entry.DocID)
		if err != nil {
			e.logger.Warn("fulltext missing, falling back to snippet", "doc_id", se.Entry.DocID, "error", err)
			text = se.Entry.Snippet
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if total+len(text) > e.charBudget {
			if rest := e.charBudget - total; rest > 0 {
				pieces = append(pieces, text[:rest])
			}
			break
		}
		pieces = append(pieces, text)
		total += len(text)
	}

	return strings.Join(pieces, "\n\n---\n\n")
}

// Sources converts scored entries to numbered citations.
func Sources(entries []types.ScoredEntry) []types.Source {
	sources := make([]types.Source, 0, len(entries))
	for i, se := range entries {
		title := se.Entry.DisplayName
		if title == "" {
			title = "Doc" + strconv.Itoa(i+1)
		}
		sources = append(sources, types.Source{
			DocID:   se.Entry.DocID,
			Title:   "[" + strconv.Itoa(i+1) + "] " + title,
			Snippet: truncate(se.Entry.Snippet, snippetPreview),
			Page:    se.Entry.Page,
			Score:   se.Score,
		})
	}
	return sources
}

// Answer runs the full non-streaming pipeline for one question.
func (e *Engine) Answer(ctx context.Context, question, mode string) (types.Answer, error) {
	mode = normalizeMode(mode)

	if _, err := e.res.Index(); err != nil {
		return types.Answer{}, err
	}
	gen, err := e.res.Generator()
	if err != nil {
		return types.Answer{}, err
	}

	entries := e.Retrieve(ctx, question)
	contextText := e.BuildContext(entries)
	system, prompt := buildPrompt(mode, contextText, question)

	raw, err := gen.Generate(ctx, system, prompt)
	if err != nil {
		return types.Answer{}, err
	}

	sources := Sources(entries)
	return types.Answer{
		Answer:    formatAnswer(raw, sources),
		Sources:   sources,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
	}, nil
}

// StreamEvent is one NDJSON line of a streaming answer.
type StreamEvent struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Message string         `json:"message,omitempty"`
	Sources []types.Source `json:"sources,omitempty"`
}

// AnswerStream runs the pipeline incrementally: first a sources event, then
// a partial event per generated fragment, then the terminal done event. The
// done event is sent on every path, failures included, so clients can always
// key their teardown on it. The channel closes after done.
func (e *Engine) AnswerStream(ctx context.Context, question, mode string) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		emit := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		finish := func() { emit(StreamEvent{Type: "done"}) }

		mode = normalizeMode(mode)

		if _, err := e.res.Index(); err != nil {
			emit(StreamEvent{Type: "error", Message: "RAG not ready"})
			finish()
			return
		}
		gen, err := e.res.Generator()
		if err != nil {
			emit(StreamEvent{Type: "error", Message: "RAG not ready"})
			finish()
			return
		}

		entries := e.Retrieve(ctx, question)
		if !emit(StreamEvent{Type: "sources", Sources: Sources(entries)}) {
			return
		}

		contextText := e.BuildContext(entries)
		system, prompt := buildPrompt(mode, contextText, question)

		err = gen.GenerateStream(ctx, system, prompt, func(text string) error {
			if !emit(StreamEvent{Type: "partial", Text: text}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			e.logger.Error("answer stream failed", "error", err)
			emit(StreamEvent{Type: "error", Message: err.Error()})
		}
		finish()
	}()

	return out
}

// formatAnswer reflows the model output into readable paragraphs and
// appends the citation list.
func formatAnswer(raw string, sources []types.Source) string {
	clean := strings.Join(strings.Fields(raw), " ")

	var paragraphs []string
	for len(clean) > paragraphWidth {
		cut := strings.LastIndex(clean[:paragraphWidth], ".")
		if cut == -1 {
			cut = strings.LastIndex(clean[:paragraphWidth], " ")
		}
		if cut <= 0 {
			cut = paragraphWidth - 1
		}
		paragraphs = append(paragraphs, strings.TrimSpace(clean[:cut+1]))
		clean = strings.TrimSpace(clean[cut+1:])
	}
	if clean != "" {
		paragraphs = append(paragraphs, clean)
	}
	answer := strings.Join(paragraphs, "\n\n")

	if len(sources) > 0 {
		lines := make([]string, 0, len(sources))
		for _, s := range sources {
			lines = append(lines, s.Title+" (doc_id="+s.DocID+")")
		}
		answer += "\n\nSources:\n" + strings.Join(lines, "\n")
	}
	return answer
}

func normalizeMode(mode string) string {
	if strings.ToLower(strings.TrimSpace(mode)) == ModeReasoning {
		return ModeReasoning
	}
	return ModeBasic
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func envInt(name string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}
