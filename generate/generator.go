// Package generate revises editor content through an OpenAI-compatible
// chat completions API and applies the returned edit blocks.
package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Paranoid-AF/promptbar"
	defaults "github.com/Paranoid-AF/promptbar/default"
)

// ErrNotConfigured is returned by Send when no API key is available.
var ErrNotConfigured = errors.New("generation API key not configured; set PROMPTBAR_GENERATION_API_KEY or edit config.json")

// Generator performs code revisions via an OpenAI-compatible API.
type Generator struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	prompt      string
	interval    time.Duration
	client      *http.Client
}

// NewGenerator creates a generator. An empty prompt selects the built-in
// template; interval bounds how often progress is reported.
func NewGenerator(baseURL, apiKey, model string, maxTokens int, temperature float64, prompt string, timeout, interval time.Duration) *Generator {
	if prompt == "" {
		prompt = defaults.DefaultPrompt
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Generator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		prompt:      prompt,
		interval:    interval,
		client:      &http.Client{Timeout: timeout},
	}
}

// FromConfig creates a generator from the resolved configuration, using a
// custom prompt template from the config directory when one exists.
func FromConfig(cfg *promptbar.Config) *Generator {
	apiKey := promptbar.ResolveGenerationAPIKey(cfg)
	if apiKey == "" {
		slog.Warn("generation API key not configured")
	}
	return NewGenerator(
		promptbar.ResolveGenerationBaseURL(cfg),
		apiKey,
		promptbar.ResolveGenerationModel(cfg),
		cfg.Generation.MaxTokens,
		cfg.Generation.Temperature,
		loadCustomPrompt(),
		time.Duration(cfg.Generation.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Generation.ProgressIntervalMS)*time.Millisecond,
	)
}

// loadCustomPrompt returns the user's prompt template, or "" if none exists.
func loadCustomPrompt() string {
	path := promptbar.PromptPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", path)
	return string(data)
}

// Configured reports whether the generator has an API key.
func (g *Generator) Configured() bool {
	return g.apiKey != ""
}

// Send asks the model to apply req.Prompt to req.Code. The streamed
// response is reported on progress as it grows; updates are dropped when
// the receiver is not keeping up.
func (g *Generator) Send(ctx context.Context, req promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}

	raw, err := g.stream(ctx, buildPrompt(g.prompt, req.Code, req.Prompt), progress)
	if err != nil {
		return nil, err
	}
	slog.Debug("model output", "output", raw)

	after, err := ApplyPatch(req.Code, raw)
	if err != nil {
		return nil, err
	}
	return &promptbar.Result{AfterCode: after, Raw: raw}, nil
}

// buildPrompt fills the template placeholders with the code and the
// requested changes.
func buildPrompt(template, code, changes string) string {
	return strings.NewReplacer("<APP_CODE>", code, "<APP_CHANGES>", changes).Replace(template)
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
	Error   *apiError     `json:"error,omitempty"`
}

type chunkChoice struct {
	Delta chatMessage `json:"delta"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (g *Generator) stream(ctx context.Context, prompt string, progress chan<- promptbar.Progress) (string, error) {
	data, err := json.Marshal(chatCompletionsRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	limit := rate.Inf
	if g.interval > 0 {
		limit = rate.Every(g.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("failed to parse stream chunk: %w (data: %s)", err, payload)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		for _, c := range chunk.Choices {
			out.WriteString(c.Delta.Content)
		}

		if progress != nil && out.Len() > 0 && limiter.Allow() {
			select {
			case progress <- promptbar.Progress{Text: out.String()}:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	if out.Len() == 0 {
		return "", errors.New("empty response from model")
	}
	return out.String(), nil
}
