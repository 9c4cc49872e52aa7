// Package align implements the sentence aligner (C6) — the hard part of
// the pipeline. It asks an LLM to split a batch of words into sentences,
// then maps the LLM's (possibly sloppy) tokenization back onto the
// original acoustic-model words via sequence matching, so that final
// timings and text always come from the original word stream rather than
// from anything the LLM produced.
//
// The matching-block search is implemented with
// github.com/sergi/go-diff/diffmatchpatch's DiffLinesToChars/DiffMain
// trick: each word is treated as one "line", so the library's Myers diff
// runs at word granularity and its Equal runs are exactly the matching
// blocks needed to map sentences back onto acoustic words. Lenient JSON
// parsing uses github.com/kaptinlin/jsonrepair to tolerate code fences,
// trailing commas, and unbalanced brackets in LLM replies.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/aitranslate/subtitler/internal/batcher"
	"github.com/aitranslate/subtitler/internal/llm"
	"github.com/aitranslate/subtitler/internal/progress"
)

// Mapping is a sentence whose span is expressed in global word-stream
// coordinates.
type Mapping struct {
	Text     string
	StartIdx int
	EndIdx   int
}

// Error reports which batch failed alignment.
type Error struct {
	BatchIndex int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("alignment failed for batch %d: %v", e.BatchIndex, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options parameterizes the aligner.
type Options struct {
	SourceLanguage      string
	MaxWordsPerSentence int // default 25
	Temperature         float64
	MaxRetries          int
}

func (o *Options) setDefaults() {
	if o.MaxWordsPerSentence <= 0 {
		o.MaxWordsPerSentence = 25
	}
	if o.Temperature == 0 {
		o.Temperature = 0.3
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
}

// Align produces sentence mappings for a single batch. Short-circuited
// batches (batch.SkipLLM) bypass the LLM entirely and become one sentence.
// token, if non-nil, is checked before the LLM call and before each retry.
func Align(ctx context.Context, batchIndex int, b batcher.Batch, completer llm.ChatCompleter, opts Options, token *progress.Token) ([]Mapping, error) {
	opts.setDefaults()

	if b.SkipLLM || len(b.Words) == 0 {
		if len(b.Words) == 0 {
			return nil, &Error{BatchIndex: batchIndex, Err: fmt.Errorf("empty batch")}
		}
		return []Mapping{{
			Text:     joinBatchWords(b),
			StartIdx: b.StartIdx,
			EndIdx:   b.StartIdx + len(b.Words) - 1,
		}}, nil
	}

	sentences, err := requestSentences(ctx, b, completer, opts, token)
	if err != nil {
		return nil, &Error{BatchIndex: batchIndex, Err: err}
	}
	if len(sentences) == 0 {
		return nil, &Error{BatchIndex: batchIndex, Err: fmt.Errorf("empty sentences from llm")}
	}

	mappings, err := alignSentences(b, sentences)
	if err != nil {
		return nil, &Error{BatchIndex: batchIndex, Err: err}
	}
	if len(mappings) == 0 {
		return nil, &Error{BatchIndex: batchIndex, Err: fmt.Errorf("zero mappings produced")}
	}

	return mappings, nil
}

func joinBatchWords(b batcher.Batch) string {
	parts := make([]string, len(b.Words))
	for i, w := range b.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// requestSentences builds the segmentation prompt, calls the LLM with
// retry-with-backoff on transient failures, and parses its reply tolerantly
// into a sentence list.
func requestSentences(ctx context.Context, b batcher.Batch, completer llm.ChatCompleter, opts Options, token *progress.Token) ([]string, error) {
	prompt := buildPrompt(b, opts)

	result, err := llm.Retry(ctx, token, opts.MaxRetries, func() (llm.Result, error) {
		return completer.Complete(ctx, prompt, llm.CompleteOptions{
			Temperature: opts.Temperature,
			MaxRetries:  opts.MaxRetries,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	return parseSentences(result.Content)
}

func buildPrompt(b batcher.Batch, opts Options) []llm.Message {
	lang := opts.SourceLanguage
	if lang == "" {
		lang = "the source language"
	}

	system := fmt.Sprintf(
		"You split transcribed speech into sentences. The language is %s. "+
			"Do not rewrite, correct, or reorder any words. Return strict JSON "+
			`of the form {"sentences": ["...", "..."]}, nothing else. `+
			"Keep each sentence under %d words where reasonable.",
		lang, opts.MaxWordsPerSentence,
	)

	user := joinBatchWords(b)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// parseSentences feeds the raw reply through a lenient repair pass before
// parsing it as { "sentences": [string] }.
func parseSentences(raw string) ([]string, error) {
	cleaned := stripCodeFences(raw)

	var parsed struct {
		Sentences []string `json:"sentences"`
	}

	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed.Sentences, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to repair json: %w", err)
	}

	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse repaired json: %w", err)
	}

	return parsed.Sentences, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// alignSentences runs the six-step alignment algorithm from the
// specification (normalize, derive splits, sequence-match, map, canonicalize,
// reconstruct).
func alignSentences(b batcher.Batch, sentences []string) ([]Mapping, error) {
	cleanedOriginal := make([]string, len(b.Words))
	for i, w := range b.Words {
		cleanedOriginal[i] = cleanWord(w.Text)
	}

	var cleanedLLM []string
	llmSplits := make([]int, 0, len(sentences))
	cumulative := 0
	for _, sentence := range sentences {
		tokens := strings.Fields(sentence)
		for _, tok := range tokens {
			cleanedLLM = append(cleanedLLM, cleanWord(tok))
		}
		cumulative += len(tokens)
		llmSplits = append(llmSplits, cumulative)
	}

	blocks := matchingBlocks(cleanedOriginal, cleanedLLM)

	originalSplits := make([]int, 0, len(llmSplits))
	for _, s := range llmSplits {
		originalSplits = append(originalSplits, mapSplit(s, blocks, len(cleanedOriginal)))
	}

	canonical := canonicalizeSplits(originalSplits, len(cleanedLLM), len(cleanedOriginal))

	return reconstruct(b, canonical), nil
}

// cleanWord lowercases and strips non-alphanumeric runes, preserving
// letters from every script (including CJK and Hangul, which Go's
// unicode.IsLetter already classifies as letters).
func cleanWord(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type block struct {
	aStart int
	bStart int
	length int
}

// matchingBlocks finds maximal equal-word runs between a and b using a
// word-granularity Myers diff: each word becomes one "line" so the
// library's line-diff machinery operates on whole words instead of
// characters.
func matchingBlocks(a, b []string) []block {
	dmp := diffmatchpatch.New()

	aText := strings.Join(a, "\n")
	bText := strings.Join(b, "\n")

	chars1, chars2, lineArray := dmp.DiffLinesToChars(aText, bText)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var blocks []block
	aPos, bPos := 0, 0
	for _, d := range diffs {
		n := wordCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if n > 0 {
				blocks = append(blocks, block{aStart: aPos, bStart: bPos, length: n})
			}
			aPos += n
			bPos += n
		case diffmatchpatch.DiffDelete:
			aPos += n
		case diffmatchpatch.DiffInsert:
			bPos += n
		}
	}

	return blocks
}

// wordCount counts the lines DiffLinesToChars encoded into d.Text, which
// is every trailing-newline-delimited word the diff carried in this run.
func wordCount(text string) int {
	n := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// mapSplit maps one LLM split index to an original-word split index,
// trying a position inside a matching block, then the start of the first
// block at or after the split, and otherwise the end of the original words.
func mapSplit(llmSplit int, blocks []block, lenA int) int {
	for _, blk := range blocks {
		if blk.bStart < llmSplit && llmSplit < blk.bStart+blk.length {
			return blk.aStart + (llmSplit - blk.bStart)
		}
	}
	for _, blk := range blocks {
		if blk.bStart >= llmSplit {
			return blk.aStart
		}
	}
	return lenA
}

func canonicalizeSplits(splits []int, lenB, lenA int) []int {
	seen := make(map[int]bool, len(splits))
	var out []int
	for _, s := range splits {
		if s <= 0 || s > lenA {
			continue
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)

	if len(splits) > 0 && splits[len(splits)-1] == lenB && !seen[lenA] {
		out = append(out, lenA)
	}

	return out
}

func reconstruct(b batcher.Batch, splits []int) []Mapping {
	var mappings []Mapping
	start := 0
	for _, end := range splits {
		if end <= start {
			continue
		}
		mappings = append(mappings, Mapping{
			Text:     joinOriginalWords(b, start, end),
			StartIdx: b.StartIdx + start,
			EndIdx:   b.StartIdx + end - 1,
		})
		start = end
	}
	if start < len(b.Words) {
		mappings = append(mappings, Mapping{
			Text:     joinOriginalWords(b, start, len(b.Words)),
			StartIdx: b.StartIdx + start,
			EndIdx:   b.StartIdx + len(b.Words) - 1,
		})
	}
	return mappings
}

func joinOriginalWords(b batcher.Batch, start, end int) string {
	parts := make([]string, 0, end-start)
	for i := start; i < end && i < len(b.Words); i++ {
		parts = append(parts, b.Words[i].Text)
	}
	return strings.Join(parts, " ")
}
