package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/llm"
	"github.com/aitranslate/subtitler/internal/progress"
	"github.com/aitranslate/subtitler/internal/store/memstore"
	"github.com/aitranslate/subtitler/internal/subtitle"
	"github.com/aitranslate/subtitler/internal/transcript"
	"github.com/aitranslate/subtitler/internal/translate"
)

// buildMonoWAV mirrors the decode package's own test helper: a minimal
// 16-bit PCM mono WAV container around the given samples.
func buildMonoWAV(t *testing.T, sampleRate int, samples []int16) []byte {
	t.Helper()

	var data bytes.Buffer
	for _, s := range samples {
		require.NoError(t, binary.Write(&data, binary.LittleEndian, s))
	}

	dataSize := data.Len()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(data.Bytes())

	return buf.Bytes()
}

// fakeTranscriber returns two words, each spanning half of the input's
// duration, in source order.
type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(_ context.Context, samples []float32, sampleRate int, _ transcript.Options) ([]transcript.Word, error) {
	dur := float64(len(samples)) / float64(sampleRate)
	return []transcript.Word{
		{Text: "hello", StartTime: 0, EndTime: dur / 2, Confidence: 0.9},
		{Text: "world.", StartTime: dur / 2, EndTime: dur, Confidence: 0.9},
	}, nil
}

// fakeCompleter returns the same direct-translation JSON map, covering a
// single entry "1", for every call; it is not exercised by the Transcribe-only
// tests since those batches are all short enough to skip the LLM.
type fakeCompleter struct{}

func (fakeCompleter) Complete(_ context.Context, messages []llm.Message, _ llm.CompleteOptions) (llm.Result, error) {
	return llm.Result{Content: `{"1":{"origin":"hello world.","direct":"bonjour monde."}}`, TokensUsed: 10}, nil
}

func testConfig() config.Config {
	var c config.Config
	c.SetDefaults()
	c.Pipeline.MaxChunkSeconds = 10
	c.ASR.Backend = config.ASRBackendHTTP
	c.ASR.Endpoint = "http://unused"
	c.Persistence.Backend = config.PersistenceBackendMemory
	return c
}

func TestTranscribeProducesEntriesAndPersistsThem(t *testing.T) {
	wav := buildMonoWAV(t, 16000, make([]int16, 16000*2))
	deps := Deps{Transcriber: fakeTranscriber{}, Persistence: memstore.New()}

	taskID, entries, err := Transcribe(context.Background(), deps, wav, "clip.wav", testConfig(), progress.NoopSink, nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	require.NotEmpty(t, entries)

	task, err := deps.Persistence.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, entries, task.Entries)
}

func TestTranscribeHonorsCancellation(t *testing.T) {
	wav := buildMonoWAV(t, 16000, make([]int16, 16000*2))
	deps := Deps{Transcriber: fakeTranscriber{}, Persistence: memstore.New()}

	token := progress.NewToken()
	token.Cancel()

	_, _, err := Transcribe(context.Background(), deps, wav, "clip.wav", testConfig(), progress.NoopSink, token)
	require.ErrorIs(t, err, progress.Cancelled{})
}

// cancelOnSecondChunk tracks a silently cancel-after-first-call behavior so
// the cancellation proven below only trips once transcription is already
// underway, showing the token is checked per chunk rather than only once
// up front.
type cancelOnSecondChunk struct {
	token *progress.Token
	calls int
}

func (c *cancelOnSecondChunk) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts transcript.Options) ([]transcript.Word, error) {
	c.calls++
	if c.calls == 1 {
		c.token.Cancel()
	}
	return fakeTranscriber{}.Transcribe(ctx, samples, sampleRate, opts)
}

func TestTranscribeCancelsPerChunkMidRun(t *testing.T) {
	wav := buildMonoWAV(t, 16000, make([]int16, 16000*3))

	token := progress.NewToken()
	transcriber := &cancelOnSecondChunk{token: token}
	deps := Deps{Transcriber: transcriber, Persistence: memstore.New()}

	cfg := testConfig()
	cfg.Pipeline.MaxChunkSeconds = 1

	_, _, err := Transcribe(context.Background(), deps, wav, "clip.wav", cfg, progress.NoopSink, token)
	require.ErrorIs(t, err, progress.Cancelled{})
	require.Equal(t, 1, transcriber.calls)
}

func TestTranscribeEmitsLifecycleEvents(t *testing.T) {
	wav := buildMonoWAV(t, 16000, make([]int16, 16000*2))
	deps := Deps{Transcriber: fakeTranscriber{}, Persistence: memstore.New()}

	var kinds []progress.Kind
	sink := progress.SinkFunc(func(e progress.Event) { kinds = append(kinds, e.Kind) })

	_, _, err := Transcribe(context.Background(), deps, wav, "clip.wav", testConfig(), sink, nil)
	require.NoError(t, err)
	require.Contains(t, kinds, progress.KindDecoding)
	require.Contains(t, kinds, progress.KindChunking)
	require.Contains(t, kinds, progress.KindTranscribing)
	require.Contains(t, kinds, progress.KindLLMMerging)
	require.Contains(t, kinds, progress.KindCompleted)
}

func TestTranslateCreatesTaskWhenNoneGiven(t *testing.T) {
	entries := []subtitle.Entry{{ID: 1, StartTime: 0, EndTime: 1, Text: "hello world."}}
	deps := Deps{Completer: fakeCompleter{}, Persistence: memstore.New()}

	cfg := testConfig()
	cfg.Translation.TargetLanguage = "fr"
	cfg.Translation.ThreadCount = 1

	taskID, err := Translate(context.Background(), deps, "", "clip.srt", entries, nil, cfg, progress.NoopSink, nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := deps.Persistence.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, subtitle.StatusCompleted, task.Entries[0].TranslationStatus)
	require.NotEmpty(t, task.Entries[0].TranslatedText)
}

func TestRunChainsTranscribeAndTranslate(t *testing.T) {
	wav := buildMonoWAV(t, 16000, make([]int16, 16000*2))
	deps := Deps{Transcriber: fakeTranscriber{}, Completer: fakeCompleter{}, Persistence: memstore.New()}

	cfg := testConfig()
	cfg.Translation.TargetLanguage = "fr"
	cfg.Translation.ThreadCount = 1

	terms := []translate.TerminologyEntry{{Source: "world", Target: "monde"}}

	taskID, entries, err := Run(context.Background(), deps, wav, "clip.wav", terms, cfg, progress.NoopSink, nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	require.NotEmpty(t, entries)
}
