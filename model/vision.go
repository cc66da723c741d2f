package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VisionModel recovers text from a page image. Used as the OCR fallback when
// the native PDF text layer is too sparse.
type VisionModel interface {
	RecognizeText(ctx context.Context, imgBase64 string) (string, error)
	Available() bool
}

// VisionClient talks to an Ollama-style vision endpoint (llava and friends).
// The endpoint streams newline-delimited JSON objects until done=true.
type VisionClient struct {
	url    string
	model  string
	client *http.Client
}

type visionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float32  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Images      []string `json:"images"`
}

type visionResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const visionPrompt = `Transcribe all readable text from this scanned document page.
Preserve the original wording, numbers and line order.
Return plain text only, no commentary, no markdown.`

// NewVisionClient reads VISION_URL and VISION_MODEL. Both empty means the
// OCR capability is simply not configured; callers check Available.
func NewVisionClient() *VisionClient {
	return &VisionClient{
		url:    os.Getenv("VISION_URL"),
		model:  os.Getenv("VISION_MODEL"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (v *VisionClient) Available() bool {
	return v.url != "" && v.model != ""
}

func (v *VisionClient) RecognizeText(ctx context.Context, imgBase64 string) (string, error) {
	if !v.Available() {
		return "", fmt.Errorf("vision model is not configured")
	}

	req := visionRequest{
		Model:       v.model,
		Prompt:      visionPrompt,
		Temperature: 0.05,
		MaxTokens:   2048,
		Images:      []string{imgBase64},
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create vision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return "", fmt.Errorf("vision API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	var b strings.Builder
	for {
		var chunk visionResponse
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode vision response: %w", err)
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}

	return strings.TrimSpace(b.String()), nil
}
