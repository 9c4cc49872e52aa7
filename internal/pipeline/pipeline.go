// Package pipeline wires the per-stage components (C1-C8) into the two
// end-to-end runs the CLI exposes: transcribing a media file into timed
// subtitle entries, and translating an entry set into a target language.
// Every stage boundary checks the run's progress.Token and emits a
// progress.Event.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aitranslate/subtitler/internal/align"
	"github.com/aitranslate/subtitler/internal/batcher"
	"github.com/aitranslate/subtitler/internal/chunker"
	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/decode"
	"github.com/aitranslate/subtitler/internal/llm"
	"github.com/aitranslate/subtitler/internal/progress"
	"github.com/aitranslate/subtitler/internal/silence"
	"github.com/aitranslate/subtitler/internal/store"
	"github.com/aitranslate/subtitler/internal/subtitle"
	"github.com/aitranslate/subtitler/internal/transcript"
	"github.com/aitranslate/subtitler/internal/translate"
)

// Deps bundles the capability implementations a run is wired against.
// Completer may be nil for a Transcribe-only run with no target language.
type Deps struct {
	Transcriber transcript.Transcriber
	Completer   llm.ChatCompleter
	Persistence store.Persistence
}

// checkCancel returns progress.Cancelled{} once the token has tripped.
func checkCancel(token *progress.Token) error {
	if token != nil && token.IsCancelled() {
		return progress.Cancelled{}
	}
	return nil
}

func emit(sink progress.Sink, e progress.Event) {
	if sink != nil {
		sink.Emit(e)
	}
}

// Transcribe runs C1-C7 over raw media bytes: decode, detect silence, plan
// chunks, transcribe, batch, align and assemble, persisting a new task
// eagerly at the start and filling in its entries once assembly succeeds.
func Transcribe(ctx context.Context, deps Deps, audioBytes []byte, filename string, cfg config.Config, sink progress.Sink, token *progress.Token) (taskID string, entries []subtitle.Entry, err error) {
	taskID, err = deps.Persistence.CreateTask(ctx, filename, nil, store.CreateOptions{
		FileType: store.FileTypeAudioVideo,
		FileSize: int64(len(audioBytes)),
	})
	if err != nil {
		return "", nil, &Error{Stage: "CreateTask", Err: err}
	}

	entries, err = transcribeInto(ctx, deps, audioBytes, cfg, sink, token)
	if err != nil {
		emit(sink, progress.Event{Kind: progress.KindFailed, Err: err})
		_ = deps.Persistence.UpdateProgress(ctx, taskID, store.ProgressUpdate{Status: statusPtr(store.TranslationStatusFailed)})
		return taskID, nil, err
	}

	if err := deps.Persistence.SetEntries(ctx, taskID, entries); err != nil {
		wrapped := &Error{Stage: "SetEntries", Err: err}
		emit(sink, progress.Event{Kind: progress.KindFailed, Err: wrapped})
		return taskID, nil, wrapped
	}

	emit(sink, progress.Event{Kind: progress.KindCompleted})
	return taskID, entries, nil
}

func statusPtr(s store.TranslationStatus) *store.TranslationStatus { return &s }

// transcribeInto runs the stages that don't touch persistence, so Translate
// (which never decodes audio) can't accidentally call it.
func transcribeInto(ctx context.Context, deps Deps, audioBytes []byte, cfg config.Config, sink progress.Sink, token *progress.Token) ([]subtitle.Entry, error) {
	emit(sink, progress.Event{Kind: progress.KindDecoding})
	if err := checkCancel(token); err != nil {
		return nil, err
	}

	buf, err := decode.Decode(audioBytes, decode.Options{TargetSampleRate: cfg.Pipeline.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := checkCancel(token); err != nil {
		return nil, err
	}

	silenceOpts := silence.Options{
		Threshold:   cfg.Pipeline.SilenceThreshold,
		MinDuration: cfg.Pipeline.MinSilenceSeconds,
	}
	points, err := silence.NewRMSDetector(silenceOpts).Detect(buf)
	if err != nil {
		return nil, fmt.Errorf("silence detection: %w", err)
	}

	chunks, err := chunker.Plan(len(buf.Samples), buf.SampleRate, points, chunker.Options{
		MaxChunkSeconds: cfg.Pipeline.MaxChunkSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk planning: %w", err)
	}

	emit(sink, progress.Event{Kind: progress.KindChunking, DurationSeconds: buf.Duration()})
	if err := checkCancel(token); err != nil {
		return nil, err
	}

	words, err := transcript.Run(ctx, buf.Samples, chunks, deps.Transcriber, transcript.Options{
		ReturnTimestamps:  true,
		ReturnConfidences: true,
		FrameStride:       cfg.Pipeline.FrameStride,
	}, token, func(current, total int) {
		emit(sink, progress.Event{
			Kind:    progress.KindTranscribing,
			Current: current,
			Total:   total,
			Percent: percent(current, total),
		})
	})
	if err != nil {
		return nil, err
	}

	if err := checkCancel(token); err != nil {
		return nil, err
	}

	batches := batcher.Split(words, batcher.Options{
		BatchSize:           cfg.Pipeline.BatchSize,
		PauseThreshold:      cfg.Pipeline.PauseThreshold,
		StrongPause:         cfg.Pipeline.StrongPause,
		ShortBatchWordLimit: cfg.Pipeline.ShortBatchWordLimit,
	})

	mappings, err := alignBatches(ctx, batches, deps.Completer, cfg, sink, token)
	if err != nil {
		return nil, err
	}

	emit(sink, progress.Event{Kind: progress.KindLLMMerging})
	entries, err := subtitle.Assemble(mappings, words)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// alignBatches runs C6 over every batch with bounded fan-out: a wave of up
// to cfg.Translation.ThreadCount batches in flight, mirroring the same
// SetLimit-bounded errgroup the translation engine (C8) uses. Results are
// collected into a slice indexed by batch position so flattening preserves
// batch order regardless of completion order.
func alignBatches(ctx context.Context, batches []batcher.Batch, completer llm.ChatCompleter, cfg config.Config, sink progress.Sink, token *progress.Token) ([]align.Mapping, error) {
	if len(batches) == 0 {
		return nil, nil
	}

	results := make([][]align.Mapping, len(batches))
	limit := cfg.Translation.ThreadCount
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	alignOpts := align.Options{
		SourceLanguage:      cfg.Translation.SourceLanguage,
		MaxWordsPerSentence: cfg.Pipeline.MaxWordsPerLLMSentence,
	}

	var completed int
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			if err := checkCancel(token); err != nil {
				return err
			}
			mappings, err := align.Align(gctx, i, b, completer, alignOpts, token)
			if err != nil {
				return err
			}
			results[i] = mappings
			completed++
			emit(sink, progress.Event{
				Kind:    progress.KindLLMProgress,
				Current: completed,
				Total:   len(batches),
				Percent: percent(completed, len(batches)),
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []align.Mapping
	for _, m := range results {
		all = append(all, m...)
	}
	return all, nil
}

// Translate runs C8 over an existing entry set, either freshly parsed from
// an SRT file (filename non-empty, entries not yet persisted) or a
// previously transcribed task (entries already belong to taskID).
func Translate(ctx context.Context, deps Deps, taskID string, filename string, entries []subtitle.Entry, terminology []translate.TerminologyEntry, cfg config.Config, sink progress.Sink, token *progress.Token) (string, error) {
	if taskID == "" {
		id, err := deps.Persistence.CreateTask(ctx, filename, entries, store.CreateOptions{FileType: store.FileTypeSRT})
		if err != nil {
			return "", &Error{Stage: "CreateTask", Err: err}
		}
		taskID = id
	}

	if err := checkCancel(token); err != nil {
		return taskID, err
	}

	tCfg := translate.Config{
		SourceLanguage:   cfg.Translation.SourceLanguage,
		TargetLanguage:   cfg.Translation.TargetLanguage,
		ContextBefore:    cfg.Translation.ContextBefore,
		ContextAfter:     cfg.Translation.ContextAfter,
		BatchSize:        cfg.Translation.BatchSize,
		ThreadCount:      cfg.Translation.ThreadCount,
		RPM:              cfg.Translation.RPM,
		EnableReflection: cfg.Translation.EnableReflection,
		Terminology:      terminology,
	}

	if err := translate.Run(ctx, deps.Persistence, taskID, entries, deps.Completer, tCfg, sink, token); err != nil {
		emit(sink, progress.Event{Kind: progress.KindFailed, Err: err})
		return taskID, err
	}

	emit(sink, progress.Event{Kind: progress.KindCompleted})
	return taskID, nil
}

// Run chains Transcribe and, when a target language is configured,
// Translate, under a single task.
func Run(ctx context.Context, deps Deps, audioBytes []byte, filename string, terminology []translate.TerminologyEntry, cfg config.Config, sink progress.Sink, token *progress.Token) (taskID string, entries []subtitle.Entry, err error) {
	taskID, entries, err = Transcribe(ctx, deps, audioBytes, filename, cfg, sink, token)
	if err != nil {
		return taskID, entries, err
	}

	if cfg.Translation.TargetLanguage == "" {
		return taskID, entries, nil
	}

	if _, err := Translate(ctx, deps, taskID, "", entries, terminology, cfg, sink, token); err != nil {
		return taskID, entries, err
	}

	task, err := deps.Persistence.GetTask(ctx, taskID)
	if err != nil {
		return taskID, entries, &Error{Stage: "GetTask", Err: err}
	}
	return taskID, task.Entries, nil
}

func percent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(current) / float64(total) * 100
}
