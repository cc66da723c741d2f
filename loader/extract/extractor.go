package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"medirag/model"
	"medirag/types"
)

// minNativeChars is the threshold below which the native text layer is
// considered unusable and the OCR fallback kicks in.
const minNativeChars = 400

// DocumentExtractor converts one source document into per-page text units.
type DocumentExtractor interface {
	Extract(ctx context.Context, path string) ([]types.Chunk, error)
}

// PDFExtractor reads the native PDF text layer through pdfcpu. When a
// document yields fewer than minNativeChars characters in total it falls
// back to extracting page images and recognizing them with a vision model.
// A document where both paths come up empty is an error the caller logs and
// skips; it never aborts a batch.
type PDFExtractor struct {
	vision model.VisionModel
}

func NewPDFExtractor(vision model.VisionModel) *PDFExtractor {
	return &PDFExtractor{vision: vision}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]types.Chunk, error) {
	displayName := DisplayName(path)

	units, total, err := e.extractNative(path, displayName)
	if err != nil {
		log.Printf("[INGEST] native extraction failed for %s: %v", displayName, err)
	}

	if total < minNativeChars {
		log.Printf("[INGEST] only %d chars of native text in %s, attempting OCR fallback...", total, displayName)
		if e.vision == nil || !e.vision.Available() {
			if len(units) > 0 {
				log.Printf("[OCR] vision model not configured, keeping sparse native text for %s", displayName)
				return units, nil
			}
			return nil, fmt.Errorf("no native text in %s and OCR is not available", displayName)
		}
		ocrUnits, ocrErr := e.extractOCR(ctx, path, displayName)
		if ocrErr != nil {
			log.Printf("[OCR] fallback failed for %s: %v", displayName, ocrErr)
		}
		if len(ocrUnits) > 0 {
			return ocrUnits, nil
		}
		if len(units) > 0 {
			return units, nil
		}
		return nil, fmt.Errorf("no usable text in %s", displayName)
	}

	return units, nil
}

// extractNative pulls the text layer of every page. Returns the page units
// and the total character count across the document.
func (e *PDFExtractor) extractNative(path, displayName string) ([]types.Chunk, int, error) {
	tmpDir, err := os.MkdirTemp("", "medirag-content-")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := api.LoadConfiguration()
	if err := api.ExtractContentFile(path, tmpDir, nil, conf); err != nil {
		return nil, 0, fmt.Errorf("extract content: %w", err)
	}

	pages, err := readPageFiles(tmpDir)
	if err != nil {
		return nil, 0, err
	}

	var units []types.Chunk
	total := 0
	for _, p := range pages {
		text := contentStreamText(p.data)
		if strings.TrimSpace(text) == "" {
			continue
		}
		total += len(text)
		units = append(units, types.Chunk{
			Text: text,
			Metadata: types.ChunkMetadata{
				Source:      path,
				DisplayName: displayName,
				Page:        p.page,
				OCR:         false,
			},
		})
	}

	log.Printf("[INGEST] native layer extracted ~%d chars from %d page(s) in %s", total, len(units), displayName)
	return units, total, nil
}

// extractOCR rasterized-page recovery: extract embedded page images and run
// each through the vision model.
func (e *PDFExtractor) extractOCR(ctx context.Context, path, displayName string) ([]types.Chunk, error) {
	tmpDir, err := os.MkdirTemp("", "medirag-images-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := api.LoadConfiguration()
	if err := api.ExtractImagesFile(path, tmpDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	pages, err := readPageFiles(tmpDir)
	if err != nil {
		return nil, err
	}

	var units []types.Chunk
	for _, p := range pages {
		if ctx.Err() != nil {
			return units, ctx.Err()
		}
		text, err := e.vision.RecognizeText(ctx, base64.StdEncoding.EncodeToString(p.data))
		if err != nil {
			log.Printf("[OCR] page %d of %s: %v", p.page, displayName, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, types.Chunk{
			Text: text,
			Metadata: types.ChunkMetadata{
				Source:      path,
				DisplayName: displayName,
				Page:        p.page,
				OCR:         true,
			},
		})
	}

	log.Printf("[OCR] recovered text from %d page(s) in %s", len(units), displayName)
	return units, nil
}

type pageFile struct {
	page int
	data []byte
}

var pageNumRe = regexp.MustCompile(`(\d+)`)

// readPageFiles reads every file pdfcpu dropped into dir and orders them by
// the page number embedded in the file name. Files for the same page are
// concatenated in name order.
func readPageFiles(dir string) ([]pageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extract dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	byPage := map[int][]byte{}
	for _, name := range names {
		m := pageNumRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		byPage[page] = append(byPage[page], data...)
	}

	out := make([]pageFile, 0, len(byPage))
	for page, data := range byPage {
		out = append(out, pageFile{page: page, data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].page < out[j].page })
	return out, nil
}

// DisplayName derives a human-readable document title from its path.
func DisplayName(path string) string {
	name := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name = name[:len(name)-4]
	}
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return name
}
