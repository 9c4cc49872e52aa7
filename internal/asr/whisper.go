// Package asr provides Transcriber adapters satisfying
// internal/transcript.Transcriber: a cgo binding against whisper.cpp for
// local inference, and an HTTP adapter for a remote ASR service.
//
// The whisper.cpp binding follows the usual cgo
// whisper_init_from_file/whisper_full/whisper_free lifecycle, and reads
// back per-token timestamps and probabilities via
// whisper_full_get_token_data so each emitted transcript.Word carries a
// real Confidence instead of only segment-level text.
package asr

// #cgo LDFLAGS: -l:libwhisper.a -lm -lstdc++
// #include <whisper.h>
// #include <stdlib.h>
import "C"

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/aitranslate/subtitler/internal/transcript"
)

// WhisperConfig configures the local whisper.cpp model.
type WhisperConfig struct {
	ModelFile  string
	NumThreads int
	Language   string
}

func (c WhisperConfig) IsValid() error {
	if c.ModelFile == "" {
		return fmt.Errorf("invalid ModelFile: should not be empty")
	}
	if numCPU := runtime.NumCPU(); c.NumThreads < 0 || c.NumThreads > numCPU {
		return fmt.Errorf("invalid NumThreads: should be in the range [0, %d]", numCPU)
	}
	if _, err := os.Stat(c.ModelFile); err != nil {
		return fmt.Errorf("invalid ModelFile: failed to stat model file: %w", err)
	}
	return nil
}

// WhisperTranscriber wraps a loaded whisper.cpp context and implements
// transcript.Transcriber.
type WhisperTranscriber struct {
	cfg WhisperConfig
	ctx *C.struct_whisper_context
}

// NewWhisperTranscriber loads the GGML model file at cfg.ModelFile.
func NewWhisperTranscriber(cfg WhisperConfig) (*WhisperTranscriber, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if cfg.NumThreads == 0 {
		cfg.NumThreads = runtime.NumCPU()
	}

	path := C.CString(cfg.ModelFile)
	defer C.free(unsafe.Pointer(path))

	ctx := C.whisper_init_from_file(path)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load model file")
	}

	return &WhisperTranscriber{cfg: cfg, ctx: ctx}, nil
}

// Destroy releases the underlying whisper.cpp context. Safe to call once.
func (w *WhisperTranscriber) Destroy() error {
	if w.ctx == nil {
		return fmt.Errorf("context is not initialized")
	}
	C.whisper_free(w.ctx)
	w.ctx = nil
	return nil
}

// Transcribe runs whisper.cpp over samples (expected at 16kHz mono) and
// returns word-level results with timestamps and confidences.
//
// whisper.cpp's own resampling/framing assumes 16kHz input; sampleRate is
// accepted to satisfy the Transcriber contract and is validated rather
// than acted on, since by the time audio reaches this adapter the
// decoder stage has already resampled to the model's expected rate.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts transcript.Options) ([]transcript.Word, error) {
	if w.ctx == nil {
		return nil, fmt.Errorf("context is not initialized")
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("samples should not be empty")
	}
	if sampleRate != 16000 {
		return nil, fmt.Errorf("invalid sample rate %d: whisper.cpp expects 16000", sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.no_context = C.bool(false)
	params.n_threads = C.int(w.cfg.NumThreads)
	params.token_timestamps = C.bool(true)
	params.max_len = C.int(1)
	params.split_on_word = C.bool(true)
	if w.cfg.Language != "" {
		lang := C.CString(w.cfg.Language)
		defer C.free(unsafe.Pointer(lang))
		params.language = lang
	}

	ret := C.whisper_full(w.ctx, params, (*C.float)(&samples[0]), C.int(len(samples)))
	if ret != 0 {
		return nil, fmt.Errorf("whisper_full failed with code %d", ret)
	}

	var words []transcript.Word
	nSegments := int(C.whisper_full_n_segments(w.ctx))
	for s := 0; s < nSegments; s++ {
		nTokens := int(C.whisper_full_n_tokens(w.ctx, C.int(s)))
		for t := 0; t < nTokens; t++ {
			text := C.GoString(C.whisper_full_get_token_text(w.ctx, C.int(s), C.int(t)))
			if isSpecialToken(text) {
				continue
			}

			data := C.whisper_full_get_token_data(w.ctx, C.int(s), C.int(t))
			word := transcript.Word{
				Text: text,
			}
			if opts.ReturnTimestamps {
				word.StartTime = float64(data.t0) / 100.0
				word.EndTime = float64(data.t1) / 100.0
			}
			if opts.ReturnConfidences {
				word.Confidence = float64(data.p)
			}
			words = append(words, word)
		}
	}

	return words, nil
}

func isSpecialToken(text string) bool {
	return len(text) > 1 && text[0] == '[' && text[len(text)-1] == ']'
}
