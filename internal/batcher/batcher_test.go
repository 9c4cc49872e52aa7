package batcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/transcript"
)

func words(n int) []transcript.Word {
	out := make([]transcript.Word, n)
	t := 0.0
	for i := range out {
		out[i] = transcript.Word{Text: "word", StartTime: t, EndTime: t + 0.2}
		t += 0.25
	}
	return out
}

func TestSplitPauseBasedCut(t *testing.T) {
	ws := words(10)
	ws[4].EndTime = 2.0
	// Shift words 5.. later so word 5 starts at 3.2 and the stream stays in
	// start-time order: gap = 1.2 > 0.8.
	for i := 5; i < len(ws); i++ {
		ws[i].StartTime += 1.95
		ws[i].EndTime += 1.95
	}

	batches := Split(ws, Options{})
	require.NotEmpty(t, batches)
	require.Equal(t, ReasonPause, batches[0].Reason)
	require.InDelta(t, 1.2, batches[0].PauseGap, 1e-9)
	require.Len(t, batches[0].Words, 5)
}

func TestSplitPunctuationFallback(t *testing.T) {
	ws := words(100)
	ws[60].Text = "sentence."

	batches := Split(ws, Options{})
	require.NotEmpty(t, batches)
	require.Equal(t, ReasonPunctuation, batches[0].Reason)
	require.Len(t, batches[0].Words, 61)
}

func TestSplitHardLimit(t *testing.T) {
	ws := words(250)
	batches := Split(ws, Options{BatchSize: 100})
	require.Len(t, batches, 3)
	require.Equal(t, ReasonLimit, batches[0].Reason)
	require.Len(t, batches[0].Words, 100)
	require.Len(t, batches[2].Words, 50)
}

func TestSplitPartitionsWithNoGapsOrOverlaps(t *testing.T) {
	ws := words(37)
	batches := Split(ws, Options{BatchSize: 10})

	total := 0
	for i, b := range batches {
		require.Equal(t, total, b.StartIdx)
		require.NotEmpty(t, b.Words)
		total += len(b.Words)
		_ = i
	}
	require.Equal(t, len(ws), total)
}

func TestShortBatchSkipsLLM(t *testing.T) {
	ws := []transcript.Word{
		{Text: "hi", StartTime: 0, EndTime: 0.2},
		{Text: "there.", StartTime: 0.3, EndTime: 0.5},
	}
	batches := Split(ws, Options{})
	require.Len(t, batches, 1)
	require.True(t, batches[0].SkipLLM)
}

func TestStrongPauseWithTerminalPunctuationSkipsLLM(t *testing.T) {
	ws := words(10)
	ws[4].Text = "done."
	ws[4].EndTime = 1.0
	// Shift words 5.. later so word 5 starts at 3.0 and the stream stays in
	// start-time order: gap 2.0 > strong pause 1.5.
	for i := 5; i < len(ws); i++ {
		ws[i].StartTime += 1.75
		ws[i].EndTime += 1.75
	}

	batches := Split(ws, Options{})
	require.True(t, batches[0].SkipLLM)
	require.Equal(t, ReasonPause, batches[0].Reason)
}

func TestSplitEmpty(t *testing.T) {
	require.Empty(t, Split(nil, Options{}))
}
