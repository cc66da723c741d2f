package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// ErrThrottled means the backend rate-limited two credentials in a row.
// One rotation+retry is all a single call gets; looping further would only
// stack up tail latency.
var ErrThrottled = errors.New("generation backend is throttling all credentials")

const defaultBackoff = 2 * time.Second

// Generator calls an OpenAI-style chat completions backend with credential
// rotation on HTTP 429. Safe for concurrent use; no lock is held across a
// network call.
type Generator struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	backoff     time.Duration
	creds       *Credentials
	client      *http.Client // non-streaming, bounded
	streamer    *http.Client // streaming, no overall timeout
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// NewGenerator reads GEN_BASE_URL, GEN_MODEL, GEN_API_KEYS and the LLM_*
// tuning knobs. A missing model or empty credential pool fails construction.
func NewGenerator() (*Generator, error) {
	model := os.Getenv("GEN_MODEL")
	if model == "" {
		return nil, fmt.Errorf("GEN_MODEL is not set")
	}
	creds, err := CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(os.Getenv("GEN_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	temperature := 0.2
	if v, err := strconv.ParseFloat(os.Getenv("LLM_TEMPERATURE"), 64); err == nil {
		temperature = v
	}
	maxTokens := 256
	if v, err := strconv.Atoi(os.Getenv("LLM_MAX_TOKENS")); err == nil && v > 0 {
		maxTokens = v
	}
	backoff := defaultBackoff
	if v, err := strconv.Atoi(os.Getenv("GEN_BACKOFF_MS")); err == nil && v > 0 {
		backoff = time.Duration(v) * time.Millisecond
	}

	return &Generator{
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		backoff:     backoff,
		creds:       creds,
		client:      &http.Client{Timeout: 120 * time.Second},
		streamer:    &http.Client{},
	}, nil
}

func (g *Generator) MaxTokens() int {
	return g.maxTokens
}

// Generate produces one completion for prompt under system.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := g.requestBody(system, prompt, false)
	if err != nil {
		return "", err
	}

	resp, err := g.postWithRotation(ctx, g.client, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal generation response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generation error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generation response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// GenerateStream produces the completion incrementally, invoking onDelta
// for every text fragment as it arrives. The function returns once the
// upstream stream finishes or fails; emitting the terminal done marker to
// the client is the caller's job and must happen on every path.
func (g *Generator) GenerateStream(ctx context.Context, system, prompt string, onDelta func(text string) error) error {
	body, err := g.requestBody(system, prompt, true)
	if err != nil {
		return err
	}

	resp, err := g.postWithRotation(ctx, g.streamer, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("generation API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func (g *Generator) requestBody(system, prompt string, stream bool) ([]byte, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	if count, err := CountTokens(string(body)); err == nil {
		log.Printf("[AGENT] prompt size: %d tokens, %d bytes", count, len(body))
	}
	return body, nil
}

// postWithRotation sends body with the current credential. On HTTP 429 it
// rotates once, backs off for a fixed interval and retries with the new
// credential; a second 429 surfaces as ErrThrottled.
func (g *Generator) postWithRotation(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	resp, err := g.post(ctx, client, body, g.creds.Current())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	resp.Body.Close()

	log.Printf("[AGENT] rate limited, rotating credential and retrying in %v", g.backoff)
	key := g.creds.Rotate()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.backoff):
	}

	resp, err = g.post(ctx, client, body, key)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, ErrThrottled
	}
	return resp, nil
}

func (g *Generator) post(ctx context.Context, client *http.Client, body []byte, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}
	return resp, nil
}

// CountTokens estimates the token footprint of text with a gpt-3.5
// compatible encoding.
func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
