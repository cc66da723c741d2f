package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"medirag/app/agent"
	"medirag/model"
	"medirag/store"
)

// ErrNotReady reports that answering is impossible because a required
// resource (index, embedder or generator) could not be initialized.
// Callers turn this into a "not ready" response, never a crash.
var ErrNotReady = errors.New("rag resources not ready")

// GeneratorClient is the call contract of the generation backend.
type GeneratorClient interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateStream(ctx context.Context, system, prompt string, onDelta func(text string) error) error
}

type embedderSlot struct {
	embedder model.EmbedderInterface
	err      error
}

type indexSlot struct {
	index *store.Index
	err   error
}

type generatorSlot struct {
	gen GeneratorClient
	err error
}

// Resources owns the lazily built singletons the query path needs. Each
// resource is constructed at most once per generation: the first caller
// builds it under the per-resource mutex, everyone after that gets the
// cached slot with a lock-free load. Construction failures are cached the
// same way so a misconfigured backend fails fast instead of re-dialing on
// every request.
type Resources struct {
	logger *slog.Logger
	store  *store.Store

	embedMu  sync.Mutex
	embedder atomic.Pointer[embedderSlot]

	indexMu sync.Mutex
	index   atomic.Pointer[indexSlot]

	genMu sync.Mutex
	gen   atomic.Pointer[generatorSlot]
}

func NewResources(st *store.Store) *Resources {
	return &Resources{
		logger: slog.Default(),
		store:  st,
	}
}

func (r *Resources) Store() *store.Store {
	return r.store
}

// Embedder returns the shared embedding client, constructing it on first
// use.
func (r *Resources) Embedder() (model.EmbedderInterface, error) {
	if s := r.embedder.Load(); s != nil {
		return s.embedder, s.err
	}
	r.embedMu.Lock()
	defer r.embedMu.Unlock()
	if s := r.embedder.Load(); s != nil {
		return s.embedder, s.err
	}

	e, err := model.NewOpenAIEmbedder()
	if err != nil {
		err = fmt.Errorf("%w: embedder: %v", ErrNotReady, err)
		r.logger.Error("embedder initialization failed", "error", err)
	}
	r.embedder.Store(&embedderSlot{embedder: e, err: err})
	return e, err
}

// Index returns the loaded search index. The persisted generation must
// have been produced by the embedding model currently configured; a
// mismatch would silently score garbage, so it fails the load instead.
func (r *Resources) Index() (*store.Index, error) {
	if s := r.index.Load(); s != nil {
		return s.index, s.err
	}

	embedder, err := r.Embedder()
	if err != nil {
		return nil, err
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	if s := r.index.Load(); s != nil {
		return s.index, s.err
	}

	ix, err := r.store.Load()
	switch {
	case errors.Is(err, store.ErrNoIndex):
		err = fmt.Errorf("%w: no index has been built yet", ErrNotReady)
	case err != nil:
		err = fmt.Errorf("%w: load index: %v", ErrNotReady, err)
	case ix.Manifest.EmbedModel != embedder.ModelID():
		err = fmt.Errorf("%w: index was built with embedding model %q, configured model is %q",
			ErrNotReady, ix.Manifest.EmbedModel, embedder.ModelID())
		ix = nil
	case ix.Dim() != embedder.Dim():
		err = fmt.Errorf("%w: index dimension %d does not match embedder dimension %d",
			ErrNotReady, ix.Dim(), embedder.Dim())
		ix = nil
	}
	if err != nil {
		r.logger.Error("index initialization failed", "error", err)
	} else {
		r.logger.Info("index loaded",
			"chunks", ix.Manifest.Chunks,
			"kind", ix.Manifest.IndexType,
			"embed_model", ix.Manifest.EmbedModel)
	}
	r.index.Store(&indexSlot{index: ix, err: err})
	return ix, err
}

// Generator returns the shared generation client.
func (r *Resources) Generator() (GeneratorClient, error) {
	if s := r.gen.Load(); s != nil {
		return s.gen, s.err
	}
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if s := r.gen.Load(); s != nil {
		return s.gen, s.err
	}

	g, err := agent.NewGenerator()
	var client GeneratorClient
	if err != nil {
		err = fmt.Errorf("%w: generator: %v", ErrNotReady, err)
		r.logger.Error("generator initialization failed", "error", err)
	} else {
		client = g
	}
	r.gen.Store(&generatorSlot{gen: client, err: err})
	return client, err
}

// Reset drops every cached resource so the next access rebuilds it. Called
// after an ingestion run replaces the index generation on disk, and usable
// to recover from a cached construction failure once the backend is fixed.
func (r *Resources) Reset() {
	r.embedMu.Lock()
	r.embedder.Store(nil)
	r.embedMu.Unlock()

	r.indexMu.Lock()
	r.index.Store(nil)
	r.indexMu.Unlock()

	r.genMu.Lock()
	r.gen.Store(nil)
	r.genMu.Unlock()
}

// Warmup eagerly constructs every resource. With force it resets first,
// rebuilding even previously cached failures. The joined error reports
// everything that is still broken.
func (r *Resources) Warmup(force bool) error {
	if force {
		r.Reset()
	}
	var errs []error
	if _, err := r.Embedder(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Index(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Generator(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WarmupAsync runs Warmup in the background and reports the outcome on the
// returned channel (buffered, never blocks the worker).
func (r *Resources) WarmupAsync(force bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := r.Warmup(force)
		if err != nil {
			r.logger.Error("warmup finished with errors", "error", err)
		} else {
			r.logger.Info("warmup complete, all resources ready")
		}
		done <- err
	}()
	return done
}

// Status reports per-resource readiness without constructing anything.
func (r *Resources) Status() map[string]bool {
	status := map[string]bool{"embeddings": false, "vectorstore": false, "llm": false}
	if s := r.embedder.Load(); s != nil {
		status["embeddings"] = s.err == nil
	}
	if s := r.index.Load(); s != nil {
		status["vectorstore"] = s.err == nil
	}
	if s := r.gen.Load(); s != nil {
		status["llm"] = s.err == nil
	}
	return status
}
