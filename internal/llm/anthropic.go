package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/budget"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicAdapter implements Adapter against Anthropic's Messages API,
// streaming via server-sent events.
type AnthropicAdapter struct {
	apiKey           string
	baseURL          string
	httpClient       *http.Client
	logger           core.Logger
	firstTokenTimeout time.Duration
	stallTimeout      time.Duration
}

// NewAnthropicAdapter builds an adapter. baseURL defaults to the public API
// when empty.
func NewAnthropicAdapter(apiKey, baseURL string, logger core.Logger) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicAdapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{Timeout: 0}, // streaming: caller's signal governs duration
		logger:            logger,
		firstTokenTimeout: 30 * time.Second,
		stallTimeout:      30 * time.Second,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []anthropicMessage  `json:"messages"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float32             `json:"temperature"`
	Stream      bool                `json:"stream"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat streams an Anthropic completion, invoking onChunk for each delta and
// a final Done chunk carrying Usage.
func (c *AnthropicAdapter) Chat(ctx context.Context, req Request, signal budget.Signal, onChunk func(Chunk) error) error {
	if c.apiKey == "" {
		return fmt.Errorf("anthropic: API key not configured")
	}

	var system string
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model: req.Model, Messages: msgs, System: system,
		MaxTokens: req.MaxTokens, Temperature: req.Temperature,
		Stream: true, StopSequences: req.StopSequences,
	})
	if err != nil {
		return fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(data))
	}

	return c.readStream(resp.Body, signal, onChunk)
}

func (c *AnthropicAdapter) readStream(body io.Reader, signal budget.Signal, onChunk func(Chunk) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	firstToken := true
	stall := time.NewTimer(c.firstTokenTimeout)
	defer stall.Stop()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	var usage *Usage
	for {
		select {
		case <-signal.Done():
			return signal.Err()
		case <-stall.C:
			return fmt.Errorf("anthropic: stream stalled past %s", c.stallDeadline(firstToken))
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("anthropic: stream read: %w", err)
				}
				return onChunk(Chunk{Done: true, Usage: usage})
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return onChunk(Chunk{Done: true, Usage: usage})
			}
			var ev anthropicStreamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			if ev.Type == "content_block_delta" && ev.Delta.Text != "" {
				firstToken = false
				stall.Reset(c.stallTimeout)
				if err := onChunk(Chunk{Content: ev.Delta.Text}); err != nil {
					return err
				}
			}
			if ev.Type == "message_delta" && ev.Usage.OutputTokens > 0 {
				usage = &Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
			}
		}
	}
}

func (c *AnthropicAdapter) stallDeadline(firstToken bool) time.Duration {
	if firstToken {
		return c.firstTokenTimeout
	}
	return c.stallTimeout
}
