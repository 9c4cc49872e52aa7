// Package transcript implements the transcription driver (C4): it runs an
// acoustic model over each planned chunk, rebases every returned word onto
// the global time axis by adding chunk.StartSample/SampleRate to each
// word's timestamps, and concatenates the per-chunk word streams in chunk
// order.
package transcript

import (
	"context"
	"fmt"

	"github.com/aitranslate/subtitler/internal/chunker"
	"github.com/aitranslate/subtitler/internal/progress"
)

// Word is a single transcribed token with global (run-wide) timing.
type Word struct {
	Text       string
	StartTime  float64
	EndTime    float64
	Confidence float64
}

// Options requested of the Transcriber capability for each chunk call.
type Options struct {
	ReturnTimestamps  bool
	ReturnConfidences bool
	FrameStride       int
}

// Transcriber is the acoustic-model capability contract: it turns a PCM
// slice at a known sample rate into timed words local to that slice.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) ([]Word, error)
}

// Error reports which chunk failed acoustic-model inference.
type Error struct {
	ChunkIndex int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcriber failed on chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ProgressFunc is invoked after each chunk completes.
type ProgressFunc func(current, total int)

// Run drives the transcriber over every chunk in order, rebasing word
// timestamps by the chunk's sample offset and appending to a single global
// word stream. Any chunk failure aborts the run; no partial word stream is
// returned. token is polled before each chunk; a tripped token aborts the
// run with progress.Cancelled{}. token may be nil, in which case only ctx
// is checked.
func Run(ctx context.Context, samples []float32, chunks []chunker.Chunk, tr Transcriber, opts Options, token *progress.Token, onProgress ProgressFunc) ([]Word, error) {
	var words []Word

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if token != nil && token.IsCancelled() {
			return nil, progress.Cancelled{}
		}

		if c.SampleRate <= 0 {
			return nil, &Error{ChunkIndex: i, Err: fmt.Errorf("invalid sample rate")}
		}

		slice := samples[c.StartSample:c.EndSample]
		chunkWords, err := tr.Transcribe(ctx, slice, c.SampleRate, opts)
		if err != nil {
			return nil, &Error{ChunkIndex: i, Err: err}
		}

		offset := float64(c.StartSample) / float64(c.SampleRate)
		for _, w := range chunkWords {
			w.StartTime += offset
			w.EndTime += offset
			words = append(words, w)
		}

		if onProgress != nil {
			onProgress(i+1, len(chunks))
		}
	}

	return words, nil
}
