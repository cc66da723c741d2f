package model

import (
	"context"
	"log"
)

// EmbedderInterface converts text into fixed-dimension vectors. Dim is fixed
// per embedding-model configuration and must match the stored index.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dim() int
}

// EmbedAll embeds texts in batches of batchSize. A failed batch call is
// retried one text at a time; a text that still fails gets a zero vector of
// the embedder's dimension so the run stays alive. Returns the vectors and
// the number of texts that degraded to zero vectors.
func EmbedAll(ctx context.Context, e EmbedderInterface, texts []string, batchSize int) ([][]float32, int) {
	if batchSize <= 0 {
		batchSize = 32
	}

	vectors := make([][]float32, 0, len(texts))
	failed := 0

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		embs, err := e.EmbedBatch(ctx, batch)
		if err == nil && len(embs) == len(batch) {
			vectors = append(vectors, embs...)
			continue
		}
		if err != nil {
			log.Printf("[EMBEDDER] batch of %d failed, retrying singly: %v", len(batch), err)
		}

		for _, t := range batch {
			emb, err := e.Embed(ctx, t)
			if err != nil {
				log.Printf("[EMBEDDER] single embed failed, using zero vector: %v", err)
				emb = make([]float32, e.Dim())
				failed++
			}
			vectors = append(vectors, emb)
		}
	}

	return vectors, failed
}
