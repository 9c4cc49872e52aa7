package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/aitranslate/subtitler/internal/pcm"
	"github.com/aitranslate/subtitler/internal/transcript"
)

// HTTPTranscriber calls a remote ASR HTTP endpoint that accepts a WAV
// upload and returns word-level JSON, using the same minimal raw-HTTP
// client shape as internal/llm's adapters: no vendor SDK, manual
// marshaling.
type HTTPTranscriber struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPTranscriber builds a client against endpoint, authenticating
// with apiKey via a bearer token when non-empty.
func NewHTTPTranscriber(endpoint, apiKey string) *HTTPTranscriber {
	return &HTTPTranscriber{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: http.DefaultClient,
	}
}

type httpWordResponse struct {
	Words []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// Transcribe encodes samples as a mono WAV file, uploads it, and parses
// the returned word list.
func (c *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts transcript.Options) ([]transcript.Word, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("samples should not be empty")
	}

	body, contentType, err := encodeMultipartWAV(pcm.Buffer{Samples: samples, SampleRate: sampleRate}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asr service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed httpWordResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	words := make([]transcript.Word, 0, len(parsed.Words))
	for _, w := range parsed.Words {
		word := transcript.Word{Text: w.Text}
		if opts.ReturnTimestamps {
			word.StartTime = w.Start
			word.EndTime = w.End
		}
		if opts.ReturnConfidences {
			word.Confidence = w.Confidence
		}
		words = append(words, word)
	}

	return words, nil
}

func encodeMultipartWAV(buf pcm.Buffer, opts transcript.Options) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", err
	}

	// go-audio/wav's Encoder requires an io.WriteSeeker to patch the RIFF
	// size header after writing; a multipart part writer isn't seekable,
	// so the fixed-size 16-bit PCM header is written out by hand instead.
	if err := writeMinimalWAV(part, buf.Samples, buf.SampleRate); err != nil {
		return nil, "", err
	}

	if err := mw.WriteField("return_timestamps", boolString(opts.ReturnTimestamps)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("return_confidences", boolString(opts.ReturnConfidences)); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return &body, mw.FormDataContentType(), nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// writeMinimalWAV writes a canonical 16-bit PCM mono WAV header followed
// by samples scaled from [-1, 1] into int16 range.
func writeMinimalWAV(w io.Writer, samples []float32, sampleRate int) error {
	dataSize := len(samples) * 2
	byteRate := sampleRate * 2

	if _, err := io.WriteString(w, "RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36+dataSize)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "WAVE"); err != nil {
		return err
	}

	if _, err := io.WriteString(w, "fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16), uint16(1), uint16(1), uint32(sampleRate),
		uint32(byteRate), uint16(2), uint16(16),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(dataSize)); err != nil {
		return err
	}

	for _, s := range samples {
		v := int16(s * 32767)
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	return nil
}
