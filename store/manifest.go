package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest is the single process-wide pointer to the current index
// generation. Written atomically after both stores are durable; a missing
// manifest means "no index built yet", not an error.
type Manifest struct {
	Path        string `json:"path"`
	Chunks      int    `json:"chunks"`
	EmbedModel  string `json:"embed_model"`
	FulltextDir string `json:"fulltext_dir"`
	IndexType   string `json:"index_type"`
}

// writeManifest writes m to path via temp file + rename so readers never
// observe a half-written manifest.
func writeManifest(path string, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("invalid manifest JSON %s: %w", path, err)
	}
	return m, nil
}
