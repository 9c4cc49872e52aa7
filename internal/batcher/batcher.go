// Package batcher implements the batch splitter (C5): it groups the
// global word stream into LLM-sized batches using a pause threshold, an
// ending-punctuation fallback, and a hard word-count cap, with a
// short-circuit for batches too small or too clean to need an LLM call.
//
// A single forward pass merges adjacent timed words under look-back/
// look-ahead conditions, producing one batch per cut point.
package batcher

import (
	"sort"
	"strings"

	"github.com/aitranslate/subtitler/internal/transcript"
)

// SplitReason records why a batch ended where it did.
type SplitReason int

const (
	ReasonPause SplitReason = iota
	ReasonPunctuation
	ReasonLimit
)

func (r SplitReason) String() string {
	switch r {
	case ReasonPause:
		return "Pause"
	case ReasonPunctuation:
		return "Punctuation"
	case ReasonLimit:
		return "Limit"
	default:
		return "Unknown"
	}
}

// Batch is a contiguous slice of the global word stream handed to one LLM
// segmentation call (or, when SkipLLM is set, treated as a single
// sentence).
type Batch struct {
	Words    []transcript.Word
	StartIdx int
	Reason   SplitReason
	PauseGap float64
	SkipLLM  bool
}

// Options parameterizes batch splitting. Zero fields take spec defaults.
type Options struct {
	BatchSize           int     // default 100
	PauseThreshold      float64 // default 0.8s
	StrongPause         float64 // default 1.5s
	ShortBatchWordLimit int     // default 4
}

// SetDefaults fills in zero fields with spec defaults.
func (o *Options) SetDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.PauseThreshold <= 0 {
		o.PauseThreshold = 0.8
	}
	if o.StrongPause <= 0 {
		o.StrongPause = 1.5
	}
	if o.ShortBatchWordLimit <= 0 {
		o.ShortBatchWordLimit = 4
	}
}

var terminalPunctuation = map[rune]bool{
	'.': true, '?': true, '!': true,
	'。': true, '？': true, '！': true,
}

// Split sorts words defensively by start time, then walks forward
// producing batches per the pause / punctuation / limit rules.
func Split(words []transcript.Word, opts Options) []Batch {
	opts.SetDefaults()
	if len(words) == 0 {
		return nil
	}

	sorted := make([]transcript.Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	var batches []Batch
	cursor := 0

	for cursor < len(sorted) {
		windowEnd := cursor + opts.BatchSize
		if windowEnd > len(sorted) {
			windowEnd = len(sorted)
		}
		window := sorted[cursor:windowEnd]

		cutLen, reason, pauseGap := chooseCut(window, opts)

		batchWords := sorted[cursor : cursor+cutLen]
		b := Batch{
			Words:    append([]transcript.Word(nil), batchWords...),
			StartIdx: cursor,
			Reason:   reason,
			PauseGap: pauseGap,
		}
		b.SkipLLM = shouldSkipLLM(b, opts)
		batches = append(batches, b)

		cursor += cutLen
	}

	return batches
}

// chooseCut applies the three-step rule (pause scan, punctuation fallback,
// hard limit) over a candidate window and returns how many words from the
// window's start belong in the resulting batch.
func chooseCut(window []transcript.Word, opts Options) (cutLen int, reason SplitReason, pauseGap float64) {
	// Step 1: pause scan, forward, first qualifying gap wins.
	for i := 0; i+1 < len(window); i++ {
		gap := window[i+1].StartTime - window[i].EndTime
		if gap > opts.PauseThreshold {
			return i + 1, ReasonPause, gap
		}
	}

	// Step 2: punctuation fallback, backward scan from window end.
	for i := len(window) - 1; i >= 0; i-- {
		if endsWithTerminalPunctuation(window[i].Text) {
			return i + 1, ReasonPunctuation, 0
		}
	}

	// Step 3: hard limit.
	return len(window), ReasonLimit, 0
}

func endsWithTerminalPunctuation(text string) bool {
	trimmed := strings.TrimRightFunc(text, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
	})
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)
	return terminalPunctuation[r[len(r)-1]]
}

// shouldSkipLLM is the short-circuit: tiny batches, or strong-pause-bounded
// batches that already end in terminal punctuation, skip the LLM and
// become one sentence as-is.
func shouldSkipLLM(b Batch, opts Options) bool {
	if len(b.Words) <= opts.ShortBatchWordLimit {
		return true
	}
	if b.Reason == ReasonPause && b.PauseGap > opts.StrongPause {
		last := b.Words[len(b.Words)-1]
		if endsWithTerminalPunctuation(last.Text) {
			return true
		}
	}
	return false
}
