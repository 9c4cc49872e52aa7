// Package subtitle implements the entry assembler (C7): it turns aligned
// sentence spans into SubtitleEntry records timed from the original
// acoustic-model words, and formats/parses those entries as SRT and VTT.
//
// Timestamps are truncated (not rounded) into a zero-padded
// HH:MM:SS(.|,)mmm string, with a comma decimal for SRT and a dot decimal
// for VTT.
package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/aitranslate/subtitler/internal/align"
	"github.com/aitranslate/subtitler/internal/transcript"
)

// TranslationStatus tracks an entry's translation lifecycle.
type TranslationStatus int

const (
	StatusIdle TranslationStatus = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

func (s TranslationStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusInProgress:
		return "InProgress"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Entry is a single subtitle record, 1-based and contiguous within a run.
type Entry struct {
	ID                int
	StartTime         float64
	EndTime           float64
	Text              string
	TranslatedText    string
	TranslationStatus TranslationStatus
}

// EmptyResultError is returned when assembly produces zero entries.
type EmptyResultError struct{}

func (EmptyResultError) Error() string { return "assembly produced zero subtitle entries" }

// Assemble converts sentence mappings into entries, drawing start/end
// times from the first and last word each mapping spans. Mappings whose
// indices fall outside the word stream are dropped defensively.
func Assemble(mappings []align.Mapping, words []transcript.Word) ([]Entry, error) {
	var entries []Entry
	id := 1

	for _, m := range mappings {
		if m.StartIdx < 0 || m.EndIdx >= len(words) || m.StartIdx > m.EndIdx {
			continue
		}

		entries = append(entries, Entry{
			ID:                id,
			StartTime:         words[m.StartIdx].StartTime,
			EndTime:           words[m.EndIdx].EndTime,
			Text:              m.Text,
			TranslationStatus: StatusIdle,
		})
		id++
	}

	if len(entries) == 0 {
		return nil, EmptyResultError{}
	}

	return entries, nil
}

// FormatSRTTimestamp renders seconds as HH:MM:SS,mmm with truncated
// (not rounded) milliseconds.
func FormatSRTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ",")
}

// FormatVTTTimestamp renders seconds as HH:MM:SS.mmm with truncated
// milliseconds.
func FormatVTTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ".")
}

func formatTimestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(seconds * 1000) // truncation, not rounding

	h := totalMs / 3600000
	totalMs -= h * 3600000
	m := totalMs / 60000
	totalMs -= m * 60000
	s := totalMs / 1000
	ms := totalMs - s*1000

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// WriteSRT writes entries in SRT block format. When an entry carries a
// TranslatedText, the block's text is bilingual: original line, newline,
// translated line.
func WriteSRT(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d\n", e.ID); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s --> %s\n", FormatSRTTimestamp(e.StartTime), FormatSRTTimestamp(e.EndTime)); err != nil {
			return err
		}
		text := e.Text
		if e.TranslatedText != "" {
			text = e.Text + "\n" + e.TranslatedText
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", text); err != nil {
			return err
		}
	}
	return nil
}

// WriteVTT writes entries as a WebVTT track, with no speaker tags (this
// pipeline has no diarization).
func WriteVTT(w io.Writer, entries []Entry) error {
	if _, err := fmt.Fprintf(w, "WEBVTT\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "\n%s --> %s\n", FormatVTTTimestamp(e.StartTime), FormatVTTTimestamp(e.EndTime)); err != nil {
			return err
		}
		text := e.Text
		if e.TranslatedText != "" {
			text = e.Text + "\n" + e.TranslatedText
		}
		if _, err := fmt.Fprintf(w, "%s\n", text); err != nil {
			return err
		}
	}
	return nil
}

var srtTimeRE = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})[.,](\d{3})$`)

// ParseSRT reads an SRT file, tolerating \r\n and \n line endings, a
// leading BOM, and blank lines between blocks.
func ParseSRT(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var lines []string
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimRight(line, "\r")
		if first {
			line = strings.TrimPrefix(line, "﻿")
			first = false
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan srt: %w", err)
	}

	var entries []Entry
	i := 0
	for i < len(lines) {
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) {
			break
		}

		id, err := strconv.Atoi(strings.TrimSpace(lines[i]))
		if err != nil {
			return nil, fmt.Errorf("invalid srt id at line %d: %w", i+1, err)
		}
		i++
		if i >= len(lines) {
			return nil, fmt.Errorf("unexpected end of file after id %d", id)
		}

		start, end, err := parseSRTTimingLine(lines[i])
		if err != nil {
			return nil, fmt.Errorf("invalid srt timing at line %d: %w", i+1, err)
		}
		i++

		var textLines []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			textLines = append(textLines, lines[i])
			i++
		}

		original := ""
		translated := ""
		if len(textLines) > 0 {
			original = textLines[0]
		}
		if len(textLines) > 1 {
			translated = strings.Join(textLines[1:], "\n")
		}

		entries = append(entries, Entry{
			ID:                id,
			StartTime:         start,
			EndTime:           end,
			Text:              original,
			TranslatedText:    translated,
			TranslationStatus: StatusIdle,
		})
	}

	return entries, nil
}

func parseSRTTimingLine(line string) (start, end float64, err error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed timing line %q", line)
	}
	start, err = parseSRTTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err = parseSRTTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseSRTTimestamp(s string) (float64, error) {
	m := srtTimeRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])
	return float64(h)*3600 + float64(mi)*60 + float64(sec) + float64(ms)/1000, nil
}
