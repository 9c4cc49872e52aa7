package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/progress"
)

func TestAnthropicClientCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "hello there"}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", "")
	client.BaseURL = srv.URL

	result, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompleteOptions{Temperature: 0.3})
	require.NoError(t, err)
	require.Equal(t, "hello there", result.Content)
	require.Equal(t, 15, result.TokensUsed)
}

func TestAnthropicClientRetryableOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", "")
	client.BaseURL = srv.URL

	_, err := client.Complete(context.Background(), nil, CompleteOptions{})
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	require.True(t, llmErr.Retryable)
}

func TestOpenAIClientCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "translated text"}},
			},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "")
	client.BaseURL = srv.URL

	result, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, "translated text", result.Content)
	require.Equal(t, 42, result.TokensUsed)
}

func TestOpenAIClientNonRetryableOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "")
	client.BaseURL = srv.URL

	_, err := client.Complete(context.Background(), nil, CompleteOptions{})
	require.Error(t, err)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	require.False(t, llmErr.Retryable)
}

func TestRetryRetriesRetryableErrorThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), nil, 2, func() (Result, error) {
		calls++
		if calls == 1 {
			return Result{}, &Error{Retryable: true, Err: fmt.Errorf("transient")}
		}
		return Result{Content: "ok"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Content)
	require.Equal(t, 2, calls)
}

func TestRetryGivesUpOnNonRetryableError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), nil, 2, func() (Result, error) {
		calls++
		return Result{}, &Error{Retryable: false, Err: fmt.Errorf("bad request")}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryStopsOnCancelledTokenBeforeFirstAttempt(t *testing.T) {
	token := progress.NewToken()
	token.Cancel()

	calls := 0
	_, err := Retry(context.Background(), token, 2, func() (Result, error) {
		calls++
		return Result{Content: "ok"}, nil
	})
	require.ErrorIs(t, err, progress.Cancelled{})
	require.Equal(t, 0, calls)
}
