package transcript

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/chunker"
	"github.com/aitranslate/subtitler/internal/progress"
)

type stubTranscriber struct {
	byChunk map[int][]Word
	err     error
	calls   int
}

func (s *stubTranscriber) Transcribe(_ context.Context, samples []float32, _ int, _ Options) ([]Word, error) {
	idx := s.calls
	s.calls++
	if s.err != nil && idx == 1 {
		return nil, s.err
	}
	return s.byChunk[idx], nil
}

func TestRunRebasesTimestampsByChunkOffset(t *testing.T) {
	sampleRate := 16000
	chunks := []chunker.Chunk{
		{StartSample: 0, EndSample: 160000, SampleRate: sampleRate},
		{StartSample: 160000, EndSample: 320000, SampleRate: sampleRate},
	}

	stub := &stubTranscriber{byChunk: map[int][]Word{
		0: {{Text: "hello", StartTime: 0.0, EndTime: 0.4}},
		1: {{Text: "world", StartTime: 0.2, EndTime: 0.5}},
	}}

	samples := make([]float32, 320000)
	words, err := Run(context.Background(), samples, chunks, stub, Options{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, words, 2)
	require.Equal(t, "hello", words[0].Text)
	require.InDelta(t, 0.0, words[0].StartTime, 1e-9)
	require.Equal(t, "world", words[1].Text)
	require.InDelta(t, 10.2, words[1].StartTime, 1e-9)
	require.InDelta(t, 10.5, words[1].EndTime, 1e-9)
}

func TestRunAbortsOnChunkFailure(t *testing.T) {
	chunks := []chunker.Chunk{
		{StartSample: 0, EndSample: 100, SampleRate: 16000},
		{StartSample: 100, EndSample: 200, SampleRate: 16000},
	}
	stub := &stubTranscriber{err: errors.New("boom")}

	samples := make([]float32, 200)
	_, err := Run(context.Background(), samples, chunks, stub, Options{}, nil, nil)
	require.Error(t, err)

	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, 1, tErr.ChunkIndex)
}

func TestRunProgressCallback(t *testing.T) {
	chunks := []chunker.Chunk{
		{StartSample: 0, EndSample: 100, SampleRate: 16000},
		{StartSample: 100, EndSample: 200, SampleRate: 16000},
	}
	stub := &stubTranscriber{byChunk: map[int][]Word{}}

	var progressCalls [][2]int
	samples := make([]float32, 200)
	_, err := Run(context.Background(), samples, chunks, stub, Options{}, nil, func(current, total int) {
		progressCalls = append(progressCalls, [2]int{current, total})
	})
	require.NoError(t, err)
	require.Equal(t, [][2]int{{1, 2}, {2, 2}}, progressCalls)
}

func TestRunAbortsOnCancelledTokenBeforeLaterChunk(t *testing.T) {
	chunks := []chunker.Chunk{
		{StartSample: 0, EndSample: 100, SampleRate: 16000},
		{StartSample: 100, EndSample: 200, SampleRate: 16000},
		{StartSample: 200, EndSample: 300, SampleRate: 16000},
	}

	token := progress.NewToken()
	stub := &stubTranscriber{byChunk: map[int][]Word{}}
	// Cancel after the transcriber has been invoked once, so the second
	// chunk's pre-call check is what aborts the run, not a pre-existing
	// cancellation.
	first := true
	wrapped := &cancelAfterFirstCall{stub: stub, token: token, first: &first}

	samples := make([]float32, 300)
	_, err := Run(context.Background(), samples, chunks, wrapped, Options{}, token, nil)
	require.ErrorIs(t, err, progress.Cancelled{})
	require.Equal(t, 1, stub.calls)
}

type cancelAfterFirstCall struct {
	stub  *stubTranscriber
	token *progress.Token
	first *bool
}

func (c *cancelAfterFirstCall) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) ([]Word, error) {
	if *c.first {
		*c.first = false
		c.token.Cancel()
	}
	return c.stub.Transcribe(ctx, samples, sampleRate, opts)
}
