package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"medirag/types"
)

// ErrNoIndex is returned by Load when no ingestion run has completed yet.
var ErrNoIndex = errors.New("no index available")

const (
	indexDirName    = "db"
	fulltextDirName = "fulltext"
	manifestName    = "manifest.json"
	entriesFile     = "entries.jsonl"
	vectorsFile     = "vectors.f32"
	codesFile       = "codes.i8"
	scalesFile      = "scales.f32"
)

// Store persists the dual representation of one index generation under a
// single base directory: the compact searchable index, one full-text file
// per doc_id, and the manifest pointing at both. A rebuild replaces the
// whole generation; the index and the full-text store are never mixed
// across two ingestion runs.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) ManifestPath() string {
	return filepath.Join(s.baseDir, manifestName)
}

func (s *Store) indexDir() string {
	return filepath.Join(s.baseDir, indexDirName)
}

func (s *Store) fulltextDir() string {
	return filepath.Join(s.baseDir, fulltextDirName)
}

// Build writes a new index generation: full text first, then the compact
// index, then the manifest, atomically and last. Prior on-disk state is
// cleared up front so stale full text can never be served with a fresh
// index. Inputs are validated before anything is deleted, so a bad build
// request leaves an existing generation untouched.
func (s *Store) Build(entries []types.IndexedEntry, vectors [][]float32, fulltext map[string]string, embedModel, kind string) (*Index, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries to index")
	}
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("entry/vector count mismatch: %d entries, %d vectors", len(entries), len(vectors))
	}
	if kind != IndexFlat && kind != IndexQuantized {
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("zero-dimension vectors")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.DocID == "" {
			return nil, fmt.Errorf("entry with empty doc_id")
		}
		if _, dup := seen[e.DocID]; dup {
			return nil, fmt.Errorf("duplicate doc_id %q", e.DocID)
		}
		seen[e.DocID] = struct{}{}
		if _, ok := fulltext[e.DocID]; !ok {
			return nil, fmt.Errorf("missing full text for doc_id %q", e.DocID)
		}
	}

	// Clear the previous generation wholesale.
	if err := os.RemoveAll(s.baseDir); err != nil {
		return nil, fmt.Errorf("clear old store: %w", err)
	}
	for _, dir := range []string{s.indexDir(), s.fulltextDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	for _, e := range entries {
		path := filepath.Join(s.fulltextDir(), e.DocID+".txt")
		if err := os.WriteFile(path, []byte(fulltext[e.DocID]), 0644); err != nil {
			return nil, fmt.Errorf("write fulltext for %s: %w", e.DocID, err)
		}
	}

	if err := s.writeEntries(entries); err != nil {
		return nil, err
	}

	ix := &Index{
		Entries: entries,
		dim:     dim,
	}
	switch kind {
	case IndexQuantized:
		ix.codes = make([]int8, 0, len(entries)*dim)
		ix.scales = make([]float32, 0, len(entries))
		for _, v := range vectors {
			codes, scale := quantize(v)
			ix.codes = append(ix.codes, codes...)
			ix.scales = append(ix.scales, scale)
		}
		if err := writeBinary(filepath.Join(s.indexDir(), codesFile), ix.codes); err != nil {
			return nil, err
		}
		if err := writeBinary(filepath.Join(s.indexDir(), scalesFile), ix.scales); err != nil {
			return nil, err
		}
	default:
		ix.vectors = make([]float32, 0, len(entries)*dim)
		for _, v := range vectors {
			ix.vectors = append(ix.vectors, v...)
		}
		if err := writeBinary(filepath.Join(s.indexDir(), vectorsFile), ix.vectors); err != nil {
			return nil, err
		}
	}

	manifest := Manifest{
		Path:        s.indexDir(),
		Chunks:      len(entries),
		EmbedModel:  embedModel,
		FulltextDir: s.fulltextDir(),
		IndexType:   kind,
	}
	if err := writeManifest(s.ManifestPath(), manifest); err != nil {
		return nil, err
	}
	ix.Manifest = manifest

	log.Printf("[STORE] built %s index: %d entries, dim %d", kind, len(entries), dim)
	return ix, nil
}

// Load opens the current index generation. A missing manifest yields
// ErrNoIndex so the service can run before any ingestion has happened.
func (s *Store) Load() (*Index, error) {
	manifest, err := readManifest(s.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIndex
		}
		return nil, err
	}

	entries, err := s.readEntries(manifest.Path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("index at %s is empty", manifest.Path)
	}
	if manifest.Chunks != len(entries) {
		return nil, fmt.Errorf("manifest says %d chunks, entries file has %d", manifest.Chunks, len(entries))
	}

	ix := &Index{Manifest: manifest, Entries: entries}

	switch manifest.IndexType {
	case IndexQuantized:
		codes, err := readInt8File(filepath.Join(manifest.Path, codesFile))
		if err != nil {
			return nil, err
		}
		scales, err := readFloat32File(filepath.Join(manifest.Path, scalesFile))
		if err != nil {
			return nil, err
		}
		if len(scales) != len(entries) || len(codes)%len(entries) != 0 {
			return nil, fmt.Errorf("quantized index size mismatch: %d codes, %d scales, %d entries", len(codes), len(scales), len(entries))
		}
		ix.codes = codes
		ix.scales = scales
		ix.dim = len(codes) / len(entries)
	case IndexFlat:
		vectors, err := readFloat32File(filepath.Join(manifest.Path, vectorsFile))
		if err != nil {
			return nil, err
		}
		if len(vectors)%len(entries) != 0 {
			return nil, fmt.Errorf("flat index size mismatch: %d floats, %d entries", len(vectors), len(entries))
		}
		ix.vectors = vectors
		ix.dim = len(vectors) / len(entries)
	default:
		return nil, fmt.Errorf("unknown index type %q in manifest", manifest.IndexType)
	}

	return ix, nil
}

// Fulltext returns the full original text for one doc_id.
func (s *Store) Fulltext(docID string) (string, error) {
	if docID == "" || docID != filepath.Base(docID) {
		return "", fmt.Errorf("invalid doc_id %q", docID)
	}
	data, err := os.ReadFile(filepath.Join(s.fulltextDir(), docID+".txt"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) writeEntries(entries []types.IndexedEntry) error {
	f, err := os.Create(filepath.Join(s.indexDir(), entriesFile))
	if err != nil {
		return fmt.Errorf("create entries file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.DocID, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("write entries file: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("write entries file: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush entries file: %w", err)
	}
	return f.Close()
}

func (s *Store) readEntries(indexDir string) ([]types.IndexedEntry, error) {
	f, err := os.Open(filepath.Join(indexDir, entriesFile))
	if err != nil {
		return nil, fmt.Errorf("open entries file: %w", err)
	}
	defer f.Close()

	var out []types.IndexedEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e types.IndexedEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("invalid entries line: %w", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read entries file: %w", err)
	}
	return out, nil
}

func writeBinary(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := binary.Write(f, binary.LittleEndian, data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readFloat32File(path string) ([]float32, error) {
	data, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%s size is not a multiple of 4", path)
	}
	out := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func readInt8File(path string) ([]int8, error) {
	data, err := readAll(path)
	if err != nil {
		return nil, err
	}
	out := make([]int8, len(data))
	for i, b := range data {
		out[i] = int8(b)
	}
	return out, nil
}

func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
