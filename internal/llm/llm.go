// Package llm defines the ChatCompleter capability contract used by the
// sentence aligner (C6) and translation engine (C8), plus concrete HTTP
// adapters.
//
// The adapter shape is grounded on the raw-HTTP Anthropic client in
// team-hashing-lokutor-orchestrator's pkg/providers/llm/anthropic.go
// (apiKey/url/model fields, a single Complete method, manual JSON
// marshaling); the OpenAI adapter mirrors the same shape against the
// OpenAI chat-completions wire format, the same way alnah-go-transcript
// uses sashabaranov/go-openai for a higher-level client around the same
// endpoint family.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/aitranslate/subtitler/internal/progress"
)

// Message is a single turn in a chat-completion request.
type Message struct {
	Role    string
	Content string
}

// CompleteOptions configures a single completion call.
type CompleteOptions struct {
	Temperature float64
	MaxRetries  int
}

// Result carries the model's text reply and token accounting.
type Result struct {
	Content    string
	TokensUsed int
}

// ChatCompleter is the capability contract the pipeline depends on; it
// never specifies how weights are loaded or which vendor answers the call.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (Result, error)
}

// Error reports an LLM call failure, flagging whether a retry is
// worthwhile (HTTP 429/5xx and network errors are retryable; 4xx
// validation failures are not).
type Error struct {
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm call failed (retryable=%v): %v", e.Retryable, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Retry runs attempt up to maxRetries additional times (maxRetries+1 tries
// total), retrying only when attempt returns a retryable *Error, and
// backing off exponentially between tries. token and ctx are both checked
// before every try, so a cancelled run or token aborts retrying rather than
// waiting out the backoff. Every ChatCompleter caller that needs retries
// (C6 sentence alignment, C8 translation) goes through this one loop so
// retry behavior is uniform regardless of which stage calls the LLM.
func Retry(ctx context.Context, token *progress.Token, maxRetries int, attempt func() (Result, error)) (Result, error) {
	var lastErr error

	for try := 0; try <= maxRetries; try++ {
		if token != nil && token.IsCancelled() {
			return Result{}, progress.Cancelled{}
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result, err := attempt()
		if err == nil {
			return result, nil
		}
		lastErr = err

		retryable := false
		if as, ok := err.(*Error); ok {
			retryable = as.Retryable
		}
		if !retryable || try == maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(try))) * time.Second
		deadline := time.Now().Add(backoff)
		for time.Now().Before(deadline) {
			if token != nil && token.IsCancelled() {
				return Result{}, progress.Cancelled{}
			}
			select {
			case <-time.After(min(50*time.Millisecond, time.Until(deadline))):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}

	return Result{}, lastErr
}

// AnthropicClient calls the Anthropic messages API directly over HTTP,
// without the full SDK, following the same minimal client shape as the
// pack's raw-HTTP Anthropic adapter.
type AnthropicClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewAnthropicClient builds a client with sane defaults for model/base URL.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicClient{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.anthropic.com/v1/messages",
		HTTPClient: http.DefaultClient,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (Result, error) {
	var system string
	var anthropicMessages []map[string]string
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]string{
			"role":    m.Role,
			"content": m.Content,
		})
	}

	payload := map[string]any{
		"model":       c.Model,
		"messages":    anthropicMessages,
		"max_tokens":  4096,
		"temperature": opts.Temperature,
	}
	if system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &Error{Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, &Error{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &Error{Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &Error{Retryable: isRetryableStatus(resp.StatusCode), Err: fmt.Errorf("anthropic error (status %d): %s", resp.StatusCode, string(raw))}
	}

	var decoded struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, &Error{Retryable: false, Err: fmt.Errorf("failed to decode anthropic response: %w", err)}
	}
	if len(decoded.Content) == 0 {
		return Result{}, &Error{Retryable: false, Err: fmt.Errorf("no content returned from anthropic")}
	}

	return Result{
		Content:    decoded.Content[0].Text,
		TokensUsed: decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
	}, nil
}

// OpenAIClient calls the OpenAI chat-completions API directly over HTTP,
// the same minimal-client shape as AnthropicClient applied to OpenAI's
// wire format.
type OpenAIClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIClient builds a client with sane defaults for model/base URL.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.openai.com/v1/chat/completions",
		HTTPClient: http.DefaultClient,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (Result, error) {
	type oaMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	oaMessages := make([]oaMessage, len(messages))
	for i, m := range messages {
		oaMessages[i] = oaMessage{Role: m.Role, Content: m.Content}
	}

	payload := map[string]any{
		"model":       c.Model,
		"messages":    oaMessages,
		"temperature": opts.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &Error{Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, &Error{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &Error{Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &Error{Retryable: isRetryableStatus(resp.StatusCode), Err: fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(raw))}
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, &Error{Retryable: false, Err: fmt.Errorf("failed to decode openai response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return Result{}, &Error{Retryable: false, Err: fmt.Errorf("no choices returned from openai")}
	}

	return Result{
		Content:    decoded.Choices[0].Message.Content,
		TokensUsed: decoded.Usage.TotalTokens,
	}, nil
}
