package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/align"
	"github.com/aitranslate/subtitler/internal/transcript"
)

func TestAssembleSingleChunkShortAudioScenario(t *testing.T) {
	words := []transcript.Word{
		{Text: "hello", StartTime: 0.0, EndTime: 0.4, Confidence: 0.9},
		{Text: "world.", StartTime: 0.5, EndTime: 1.0, Confidence: 0.9},
	}
	mappings := []align.Mapping{{Text: "hello world.", StartIdx: 0, EndIdx: 1}}

	entries, err := Assemble(mappings, words)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].ID)
	require.Equal(t, "00:00:00,000", FormatSRTTimestamp(entries[0].StartTime))
	require.Equal(t, "00:00:01,000", FormatSRTTimestamp(entries[0].EndTime))
	require.Equal(t, "hello world.", entries[0].Text)
}

func TestAssembleDropsOutOfRangeMappings(t *testing.T) {
	words := []transcript.Word{{Text: "a", StartTime: 0, EndTime: 0.1}}
	mappings := []align.Mapping{
		{Text: "a", StartIdx: 0, EndIdx: 0},
		{Text: "bad", StartIdx: 0, EndIdx: 5},
	}

	entries, err := Assemble(mappings, words)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAssembleEmptyFails(t *testing.T) {
	_, err := Assemble(nil, nil)
	require.Error(t, err)
	require.ErrorAs(t, err, &EmptyResultError{})
}

func TestFormatSRTTimestampTruncatesNotRounds(t *testing.T) {
	require.Equal(t, "00:00:01,999", FormatSRTTimestamp(1.9999))
	require.Equal(t, "01:01:01,000", FormatSRTTimestamp(3661.0))
}

func TestSRTRoundTrip(t *testing.T) {
	entries := []Entry{
		{ID: 1, StartTime: 0, EndTime: 1.5, Text: "Hello there."},
		{ID: 2, StartTime: 1.5, EndTime: 3.2, Text: "General Kenobi.", TranslatedText: "Generale Kenobi."},
	}

	var sb strings.Builder
	require.NoError(t, WriteSRT(&sb, entries))

	parsed, err := ParseSRT(strings.NewReader(sb.String()))
	require.NoError(t, err)
	require.Len(t, parsed, len(entries))
	for i := range entries {
		require.Equal(t, entries[i].ID, parsed[i].ID)
		require.Equal(t, entries[i].Text, parsed[i].Text)
		require.Equal(t, entries[i].TranslatedText, parsed[i].TranslatedText)
		require.InDelta(t, entries[i].StartTime, parsed[i].StartTime, 0.001)
		require.InDelta(t, entries[i].EndTime, parsed[i].EndTime, 0.001)
	}
}

func TestParseSRTTolerantOfCRLFAndBOM(t *testing.T) {
	raw := "﻿1\r\n00:00:00,000 --> 00:00:01,000\r\nHello\r\n\r\n"
	entries, err := ParseSRT(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Hello", entries[0].Text)
}

func TestWriteVTTUsesDotSeparator(t *testing.T) {
	entries := []Entry{{ID: 1, StartTime: 0, EndTime: 1, Text: "hi"}}
	var sb strings.Builder
	require.NoError(t, WriteVTT(&sb, entries))
	require.Contains(t, sb.String(), "00:00:00.000 --> 00:00:01.000")
	require.Contains(t, sb.String(), "WEBVTT")
}
