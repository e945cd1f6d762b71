// Package llm streams chat completions from the Anthropic Messages API.
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

	"github.com/rs/zerolog/log"
)

const (
	messagesURL       = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	promptCachingBeta = "prompt-caching-2024-07-31"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicClient streams responses from the Messages API. The system prompt
// is sent with an ephemeral cache_control block: it carries the full product
// summary and task list and is identical across turns, so caching it cuts
// time-to-first-token substantially.
type AnthropicClient struct {
	HTTPClient  *http.Client
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      []systemBlock `json:"system"`
	Messages    []Message     `json:"messages"`
	Stream      bool          `json:"stream"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient builds a client with defaults suited to a low-latency
// voice loop: short responses, mildly creative.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

// Stream starts a completion and returns a channel of text deltas plus an
// error channel. Both channels close when the stream ends; the error channel
// receives at most one error. Cancelling ctx aborts the request.
func (c *AnthropicClient) Stream(ctx context.Context, system string, messages []Message) (<-chan string, <-chan error) {
	tokens := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)
		if err := c.stream(ctx, system, messages, tokens); err != nil {
			errs <- err
		}
	}()

	return tokens, errs
}

func (c *AnthropicClient) stream(ctx context.Context, system string, messages []Message, tokens chan<- string) error {
	if c.APIKey == "" {
		return fmt.Errorf("anthropic api key missing")
	}

	reqBody, _ := json.Marshal(messagesRequest{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		System: []systemBlock{{
			Type:         "text",
			Text:         system,
			CacheControl: &cacheControl{Type: "ephemeral"},
		}},
		Messages: messages,
		Stream:   true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", promptCachingBeta)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("anthropic error: status=%d body=%s", resp.StatusCode, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[len("data: "):]
		if data == "[DONE]" {
			break
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Debug().Err(err).Msg("skipping malformed stream event")
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				select {
				case tokens <- ev.Delta.Text:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case "error":
			return fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		case "message_stop":
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		// Cancellation surfaces as a read error on the body.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("anthropic stream read: %w", err)
	}
	return nil
}
