package service

import (
	"os"
	"strconv"
	"time"

	"medirag/store"
)

// Config is the ingestion tuning, read once from the environment.
type Config struct {
	StoreDir       string
	SourceDir      string
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
	Workers        int
	IndexKind      string
	WarmupOnIngest bool
	MonitoringTime time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		StoreDir:       envOr("RAG_STORE_DIR", "vectorstore"),
		SourceDir:      envOr("RAG_SOURCE_DIR", "data"),
		ChunkSize:      envInt("RAG_CHUNK_SIZE", 800),
		ChunkOverlap:   envInt("RAG_CHUNK_OVERLAP", 120),
		EmbedBatchSize: envInt("EMBED_BATCH_SIZE", 32),
		Workers:        envInt("INGEST_MAX_WORKERS", 1),
		IndexKind:      envOr("RAG_INDEX_KIND", store.IndexFlat),
		WarmupOnIngest: envBool("RAG_WARMUP_ON_INGEST", true),
		MonitoringTime: time.Duration(envInt("RAG_MONITORING_SECONDS", 3)) * time.Second,
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
