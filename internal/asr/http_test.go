package asr

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/transcript"
)

func TestHTTPTranscriberSendsWAVAndParsesWords(t *testing.T) {
	var gotAuth string
	var gotReturnTimestamps string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)

			if part.FormName() == "audio" {
				data, err := io.ReadAll(part)
				require.NoError(t, err)
				require.Equal(t, "RIFF", string(data[:4]))
				require.Equal(t, "WAVE", string(data[8:12]))
			}
			if part.FormName() == "return_timestamps" {
				data, _ := io.ReadAll(part)
				gotReturnTimestamps = string(data)
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"words": []map[string]any{
				{"text": "hello", "start": 0.0, "end": 0.5, "confidence": 0.9},
				{"text": "world", "start": 0.5, "end": 1.0, "confidence": 0.8},
			},
		})
	}))
	defer server.Close()

	c := NewHTTPTranscriber(server.URL, "secret-key")
	words, err := c.Transcribe(context.Background(), []float32{0, 0.5, -0.5, 0.1}, 16000, transcript.Options{ReturnTimestamps: true, ReturnConfidences: true})

	require.NoError(t, err)
	require.Equal(t, "Bearer secret-key", gotAuth)
	require.Equal(t, "true", gotReturnTimestamps)
	require.Len(t, words, 2)
	require.Equal(t, "hello", words[0].Text)
	require.Equal(t, 0.5, words[0].EndTime)
	require.Equal(t, 0.9, words[0].Confidence)
}

func TestHTTPTranscriberEmptySamplesFails(t *testing.T) {
	c := NewHTTPTranscriber("http://example.invalid", "")
	_, err := c.Transcribe(context.Background(), nil, 16000, transcript.Options{})
	require.Error(t, err)
}

func TestHTTPTranscriberNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := NewHTTPTranscriber(server.URL, "")
	_, err := c.Transcribe(context.Background(), []float32{0.1, 0.2}, 16000, transcript.Options{})
	require.Error(t, err)
}

func TestWriteMinimalWAVHeader(t *testing.T) {
	var buf bytesBufferWriter
	require.NoError(t, writeMinimalWAV(&buf, []float32{0, 1, -1}, 8000))

	data := buf.data
	require.Equal(t, "RIFF", string(data[:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, "fmt ", string(data[12:16]))
	require.Equal(t, "data", string(data[36:40]))
}

type bytesBufferWriter struct{ data []byte }

func (b *bytesBufferWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
