// Package translate implements the translation engine (C8): it batches
// subtitle entries with surrounding context and relevant terminology,
// dispatches an LLM with bounded concurrency and retries, and writes the
// results back through the persistence capability.
//
// Batching, sliding-window context, glossary injection, and per-batch
// retry are grounded on lsilvatti-bakasub's internal/core/pipeline
// (TranslationBatch, buildSystemPrompt, translateBatchWithRetry); a failed
// batch is retried whole with exponential backoff and is not split into
// smaller batches. Bounded concurrency uses
// golang.org/x/sync/errgroup's SetLimit wave-fan-out, the same pattern
// used throughout the pack (e.g. mmp-vice, alnah-go-transcript); rate
// limiting uses golang.org/x/time/rate, as seen in naozine-zbor.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aitranslate/subtitler/internal/llm"
	"github.com/aitranslate/subtitler/internal/progress"
	"github.com/aitranslate/subtitler/internal/store"
	"github.com/aitranslate/subtitler/internal/subtitle"
)

// TerminologyEntry is one row of the user-supplied glossary.
type TerminologyEntry struct {
	Source string
	Target string
}

// DirectTranslation is one entry of the direct-pass JSON response.
type DirectTranslation struct {
	Origin string `json:"origin"`
	Direct string `json:"direct"`
}

// ReflectedTranslation is one entry of the optional reflection-pass JSON
// response.
type ReflectedTranslation struct {
	Origin string `json:"origin"`
	Free   string `json:"free"`
	Direct string `json:"direct"`
}

// Config parameterizes a translation run. Zero fields take spec defaults.
type Config struct {
	SourceLanguage   string
	TargetLanguage   string
	ContextBefore    int // default 5
	ContextAfter     int // default 3
	BatchSize        int // default 20
	ThreadCount      int // default 4
	RPM              int // default 0 (disabled)
	EnableReflection bool
	Terminology      []TerminologyEntry
}

func (c *Config) setDefaults() {
	if c.ContextBefore <= 0 {
		c.ContextBefore = 5
	}
	if c.ContextAfter <= 0 {
		c.ContextAfter = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.ThreadCount <= 0 {
		c.ThreadCount = 4
	}
}

const maxRetries = 5

// Run executes the translation engine over entries, mutating them in
// place through persistence and emitting progress events. It fails fast
// on the first non-cancellation error; cancellation returns
// progress.Cancelled without treating it as a failure.
func Run(ctx context.Context, persistence store.Persistence, taskID string, entries []subtitle.Entry, completer llm.ChatCompleter, cfg Config, sink progress.Sink, token *progress.Token) error {
	cfg.setDefaults()
	if sink == nil {
		sink = progress.NoopSink
	}

	batches := partitionBatches(entries, cfg.BatchSize)

	var limiter *rate.Limiter
	if cfg.RPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), 1)
	}

	total := len(batches)
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ThreadCount)

	for i, b := range batches {
		i, b := i, b

		if allCompleted(b) {
			completed++
			continue
		}

		g.Go(func() error {
			if token != nil && token.IsCancelled() {
				return progress.Cancelled{}
			}

			before, after := contextWindows(entries, b, cfg)
			terms := relevantTerms(cfg.Terminology, b, before, after)

			updates, tokensUsed, err := translateBatch(gctx, completer, b, before, after, terms, cfg, limiter, token)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}

			if err := persistence.BatchUpdateEntries(gctx, taskID, updates); err != nil {
				return fmt.Errorf("batch %d: persist: %w", i, &store.Error{Op: "BatchUpdateEntries", Err: err})
			}

			completed++
			if err := persistence.UpdateProgress(gctx, taskID, store.ProgressUpdate{
				Completed: intPtr(completed),
				Total:     intPtr(total),
				Tokens:    intPtr(tokensUsed),
			}); err != nil {
				return fmt.Errorf("batch %d: progress: %w", i, &store.Error{Op: "UpdateProgress", Err: err})
			}

			sink.Emit(progress.Event{
				Kind:        progress.KindTranslationProgress,
				Current:     completed,
				Total:       total,
				TokensDelta: tokensUsed,
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, progress.Cancelled{}) {
			return progress.Cancelled{}
		}
		return err
	}

	return nil
}

func intPtr(v int) *int { return &v }

func allCompleted(entries []subtitle.Entry) bool {
	for _, e := range entries {
		if e.TranslationStatus != subtitle.StatusCompleted {
			return false
		}
	}
	return len(entries) > 0
}

func partitionBatches(entries []subtitle.Entry, size int) [][]subtitle.Entry {
	var batches [][]subtitle.Entry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[i:end])
	}
	return batches
}

func contextWindows(all []subtitle.Entry, batch []subtitle.Entry, cfg Config) (before, after []string) {
	if len(batch) == 0 {
		return nil, nil
	}

	firstID := batch[0].ID
	lastID := batch[len(batch)-1].ID

	startIdx := indexOfID(all, firstID)
	endIdx := indexOfID(all, lastID)
	if startIdx < 0 || endIdx < 0 {
		return nil, nil
	}

	beforeStart := startIdx - cfg.ContextBefore
	if beforeStart < 0 {
		beforeStart = 0
	}
	for _, e := range all[beforeStart:startIdx] {
		before = append(before, e.Text)
	}

	afterEnd := endIdx + 1 + cfg.ContextAfter
	if afterEnd > len(all) {
		afterEnd = len(all)
	}
	for _, e := range all[endIdx+1 : afterEnd] {
		after = append(after, e.Text)
	}

	return before, after
}

func indexOfID(entries []subtitle.Entry, id int) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// relevantTerms filters the glossary to terms that case-insensitively
// appear anywhere in the batch text or its context.
func relevantTerms(terms []TerminologyEntry, batch []subtitle.Entry, before, after []string) []TerminologyEntry {
	var haystack strings.Builder
	for _, e := range batch {
		haystack.WriteString(e.Text)
		haystack.WriteByte(' ')
	}
	for _, s := range before {
		haystack.WriteString(s)
		haystack.WriteByte(' ')
	}
	for _, s := range after {
		haystack.WriteString(s)
		haystack.WriteByte(' ')
	}
	text := strings.ToLower(haystack.String())

	var relevant []TerminologyEntry
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t.Source)) {
			relevant = append(relevant, t)
		}
	}
	return relevant
}

// translateBatch runs the direct pass (and optional reflection pass) for
// one batch, returning persistence-ready updates and total tokens used.
func translateBatch(ctx context.Context, completer llm.ChatCompleter, batch []subtitle.Entry, before, after []string, terms []TerminologyEntry, cfg Config, limiter *rate.Limiter, token *progress.Token) ([]store.EntryUpdate, int, error) {
	directPrompt := buildDirectPrompt(batch, before, after, terms, cfg)

	result, err := callWithRetry(ctx, completer, directPrompt, limiter, token)
	if err != nil {
		return nil, 0, err
	}

	direct, err := parseDirect(result.Content)
	if err != nil {
		return nil, 0, fmt.Errorf("parse direct translation: %w", err)
	}

	tokensUsed := result.TokensUsed
	final := directToText(direct)

	if cfg.EnableReflection {
		reflectPrompt := buildReflectionPrompt(batch, direct, cfg)
		reflectResult, err := callWithRetry(ctx, completer, reflectPrompt, limiter, token)
		if err == nil {
			if reflected, parseErr := parseReflected(reflectResult.Content); parseErr == nil {
				final = mergeReflection(direct, reflected)
			}
			tokensUsed += reflectResult.TokensUsed
		}
		// Reflection failure silently falls back to the direct result but
		// still accrues whatever tokens the attempt used above.
	}

	completed := subtitle.StatusCompleted
	updates := make([]store.EntryUpdate, 0, len(batch))
	for i, e := range batch {
		key := strconv.Itoa(i + 1)
		translated := e.Text
		if t, ok := final[key]; ok && t != "" {
			translated = t
		}
		updates = append(updates, store.EntryUpdate{
			EntryID:        e.ID,
			TranslatedText: translated,
			HasTranslation: true,
			Status:         &completed,
		})
	}

	return updates, tokensUsed, nil
}

func buildDirectPrompt(batch []subtitle.Entry, before, after []string, terms []TerminologyEntry, cfg Config) []llm.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Translate from %s to %s.\n", orDefault(cfg.SourceLanguage, "the source language"), orDefault(cfg.TargetLanguage, "the target language")))

	if len(terms) > 0 {
		sb.WriteString("Terminology (use exactly as given):\n")
		for _, t := range terms {
			sb.WriteString(fmt.Sprintf("%s -> %s\n", t.Source, t.Target))
		}
	}
	if len(before) > 0 {
		sb.WriteString("Preceding context:\n" + strings.Join(before, "\n") + "\n")
	}
	if len(after) > 0 {
		sb.WriteString("Following context:\n" + strings.Join(after, "\n") + "\n")
	}

	sb.WriteString(`Return strict JSON of the form {"1": {"origin": "...", "direct": "..."}, "2": {...}}, one entry per numbered line below, nothing else.` + "\n")
	for i, e := range batch {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, e.Text))
	}

	return []llm.Message{{Role: "user", Content: sb.String()}}
}

func buildReflectionPrompt(batch []subtitle.Entry, direct map[string]DirectTranslation, cfg Config) []llm.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Critique and, if needed, improve this %s translation.\n", orDefault(cfg.TargetLanguage, "target-language")))
	sb.WriteString(`Return strict JSON of the form {"1": {"origin": "...", "free": "..."}, ...}, nothing else.` + "\n")

	for i := range batch {
		key := strconv.Itoa(i + 1)
		d := direct[key]
		sb.WriteString(fmt.Sprintf("%d. origin: %s\n   direct: %s\n", i+1, d.Origin, d.Direct))
	}

	return []llm.Message{{Role: "user", Content: sb.String()}}
}

func parseDirect(raw string) (map[string]DirectTranslation, error) {
	cleaned := stripCodeFences(raw)
	var parsed map[string]DirectTranslation
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func parseReflected(raw string) (map[string]ReflectedTranslation, error) {
	cleaned := stripCodeFences(raw)
	var parsed map[string]ReflectedTranslation
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func directToText(direct map[string]DirectTranslation) map[string]string {
	out := make(map[string]string, len(direct))
	for k, d := range direct {
		out[k] = d.Direct
	}
	return out
}

func mergeReflection(direct map[string]DirectTranslation, reflected map[string]ReflectedTranslation) map[string]string {
	out := make(map[string]string, len(direct))
	for k, d := range direct {
		out[k] = d.Direct
	}
	for k, r := range reflected {
		if r.Free != "" {
			out[k] = r.Free
		} else if r.Direct != "" {
			out[k] = r.Direct
		}
	}
	return out
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// callWithRetry performs one LLM call, rate-limiting each try and then
// handing the actual retry-with-backoff loop to llm.Retry so this stage's
// retry behavior matches every other ChatCompleter caller's.
func callWithRetry(ctx context.Context, completer llm.ChatCompleter, messages []llm.Message, limiter *rate.Limiter, token *progress.Token) (llm.Result, error) {
	return llm.Retry(ctx, token, maxRetries, func() (llm.Result, error) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return llm.Result{}, err
			}
		}
		return completer.Complete(ctx, messages, llm.CompleteOptions{Temperature: 0.3, MaxRetries: maxRetries})
	})
}
