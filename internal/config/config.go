// Package config loads process configuration for both subtitler
// subcommands: environment variables layered over an optional .env file
// layered over built-in defaults, split into pipeline/translation/ASR/
// persistence groupings.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults mirror spec §6's configuration table.
const (
	SampleRateDefault             = 16000
	MaxChunkSecondsDefault        = 30.0
	SilenceThresholdDefault       = 0.01
	MinSilenceSecondsDefault      = 0.3
	WordBatchSizeDefault          = 100
	PauseThresholdDefault         = 0.8
	StrongPauseDefault            = 1.5
	ShortBatchWordLimitDefault    = 4
	MaxWordsPerLLMSentenceDefault = 40
	ContextBeforeDefault          = 5
	ContextAfterDefault           = 3
	TranslationBatchSizeDefault   = 20
	ThreadCountDefault            = 4
	ASRBackendDefault             = ASRBackendWhisperCPP
	ASRNumThreadsDefault          = 2
	PersistenceBackendDefault     = PersistenceBackendSQLite
	PersistenceSQLitePathDefault  = "subtitler.db"
)

// ASRBackend selects which Transcriber adapter a run uses.
type ASRBackend string

const (
	ASRBackendWhisperCPP ASRBackend = "whisper.cpp"
	ASRBackendHTTP       ASRBackend = "http"
)

func (b ASRBackend) IsValid() bool {
	switch b {
	case ASRBackendWhisperCPP, ASRBackendHTTP:
		return true
	default:
		return false
	}
}

// PersistenceBackend selects the store.Persistence implementation.
type PersistenceBackend string

const (
	PersistenceBackendSQLite PersistenceBackend = "sqlite"
	PersistenceBackendMemory PersistenceBackend = "memory"
)

func (b PersistenceBackend) IsValid() bool {
	switch b {
	case PersistenceBackendSQLite, PersistenceBackendMemory:
		return true
	default:
		return false
	}
}

// PipelineConfig parameterizes C1-C7.
type PipelineConfig struct {
	SampleRate             int
	FrameStride            int
	MaxChunkSeconds        float64
	SilenceThreshold       float64
	MinSilenceSeconds      float64
	BatchSize              int
	PauseThreshold         float64
	StrongPause            float64
	ShortBatchWordLimit    int
	MaxWordsPerLLMSentence int
}

// TranslationConfig parameterizes C8.
type TranslationConfig struct {
	SourceLanguage   string
	TargetLanguage   string
	ContextBefore    int
	ContextAfter     int
	BatchSize        int
	ThreadCount      int
	RPM              int
	EnableReflection bool
	Provider         string // "anthropic" (default) or "openai"
	APIKey           string
	BaseURL          string
	Model            string
}

// ASRConfig selects and parameterizes the Transcriber adapter.
type ASRConfig struct {
	Backend    ASRBackend
	ModelFile  string
	NumThreads int
	Endpoint   string
	APIKey     string
}

// PersistenceConfig selects and parameterizes the Persistence adapter.
type PersistenceConfig struct {
	Backend    PersistenceBackend
	SQLitePath string
}

// Config is the top-level process configuration for both subcommands.
type Config struct {
	Pipeline    PipelineConfig
	Translation TranslationConfig
	ASR         ASRConfig
	Persistence PersistenceConfig
}

// Error reports a configuration validation failure.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s invalid: %v", e.Field, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// SetDefaults fills every zero-valued field with its spec default.
func (c *Config) SetDefaults() {
	if c.Pipeline.SampleRate == 0 {
		c.Pipeline.SampleRate = SampleRateDefault
	}
	if c.Pipeline.MaxChunkSeconds == 0 {
		c.Pipeline.MaxChunkSeconds = MaxChunkSecondsDefault
	}
	if c.Pipeline.SilenceThreshold == 0 {
		c.Pipeline.SilenceThreshold = SilenceThresholdDefault
	}
	if c.Pipeline.MinSilenceSeconds == 0 {
		c.Pipeline.MinSilenceSeconds = MinSilenceSecondsDefault
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = WordBatchSizeDefault
	}
	if c.Pipeline.PauseThreshold == 0 {
		c.Pipeline.PauseThreshold = PauseThresholdDefault
	}
	if c.Pipeline.StrongPause == 0 {
		c.Pipeline.StrongPause = StrongPauseDefault
	}
	if c.Pipeline.ShortBatchWordLimit == 0 {
		c.Pipeline.ShortBatchWordLimit = ShortBatchWordLimitDefault
	}
	if c.Pipeline.MaxWordsPerLLMSentence == 0 {
		c.Pipeline.MaxWordsPerLLMSentence = MaxWordsPerLLMSentenceDefault
	}

	if c.Translation.ContextBefore == 0 {
		c.Translation.ContextBefore = ContextBeforeDefault
	}
	if c.Translation.ContextAfter == 0 {
		c.Translation.ContextAfter = ContextAfterDefault
	}
	if c.Translation.BatchSize == 0 {
		c.Translation.BatchSize = TranslationBatchSizeDefault
	}
	if c.Translation.ThreadCount == 0 {
		c.Translation.ThreadCount = ThreadCountDefault
	}
	if c.Translation.Provider == "" {
		c.Translation.Provider = "anthropic"
	}

	if c.ASR.Backend == "" {
		c.ASR.Backend = ASRBackendDefault
	}
	if c.ASR.NumThreads == 0 {
		c.ASR.NumThreads = min(ASRNumThreadsDefault, max(1, runtime.NumCPU()))
	}

	if c.Persistence.Backend == "" {
		c.Persistence.Backend = PersistenceBackendDefault
	}
	if c.Persistence.SQLitePath == "" {
		c.Persistence.SQLitePath = PersistenceSQLitePathDefault
	}
}

// IsValid reports whether c holds a usable configuration, assuming
// SetDefaults has already run.
func (c Config) IsValid() error {
	if c.Pipeline.SampleRate <= 0 {
		return &Error{Field: "Pipeline.SampleRate", Err: fmt.Errorf("must be positive")}
	}
	if c.Pipeline.MaxChunkSeconds <= 0 {
		return &Error{Field: "Pipeline.MaxChunkSeconds", Err: fmt.Errorf("must be positive")}
	}
	if c.Translation.ThreadCount <= 0 {
		return &Error{Field: "Translation.ThreadCount", Err: fmt.Errorf("must be positive")}
	}
	if !c.ASR.Backend.IsValid() {
		return &Error{Field: "ASR.Backend", Err: fmt.Errorf("unknown backend %q", c.ASR.Backend)}
	}
	if c.ASR.Backend == ASRBackendWhisperCPP && c.ASR.ModelFile == "" {
		return &Error{Field: "ASR.ModelFile", Err: fmt.Errorf("required for whisper.cpp backend")}
	}
	if c.ASR.Backend == ASRBackendHTTP && c.ASR.Endpoint == "" {
		return &Error{Field: "ASR.Endpoint", Err: fmt.Errorf("required for http backend")}
	}
	if !c.Persistence.Backend.IsValid() {
		return &Error{Field: "Persistence.Backend", Err: fmt.Errorf("unknown backend %q", c.Persistence.Backend)}
	}
	return nil
}

// FromEnv loads a Config from environment variables, first layering in
// any .env file found in the working directory (ignored if absent).
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	var c Config

	c.Pipeline.SampleRate, _ = strconv.Atoi(os.Getenv("SAMPLE_RATE"))
	c.Pipeline.FrameStride, _ = strconv.Atoi(os.Getenv("FRAME_STRIDE"))
	c.Pipeline.MaxChunkSeconds, _ = strconv.ParseFloat(os.Getenv("MAX_CHUNK_SECONDS"), 64)
	c.Pipeline.SilenceThreshold, _ = strconv.ParseFloat(os.Getenv("SILENCE_THRESHOLD"), 64)
	c.Pipeline.MinSilenceSeconds, _ = strconv.ParseFloat(os.Getenv("MIN_SILENCE_SECONDS"), 64)
	c.Pipeline.BatchSize, _ = strconv.Atoi(os.Getenv("WORD_BATCH_SIZE"))
	c.Pipeline.PauseThreshold, _ = strconv.ParseFloat(os.Getenv("PAUSE_THRESHOLD"), 64)
	c.Pipeline.StrongPause, _ = strconv.ParseFloat(os.Getenv("STRONG_PAUSE"), 64)
	c.Pipeline.ShortBatchWordLimit, _ = strconv.Atoi(os.Getenv("SHORT_BATCH_WORD_LIMIT"))
	c.Pipeline.MaxWordsPerLLMSentence, _ = strconv.Atoi(os.Getenv("MAX_WORDS_PER_LLM_SENTENCE"))

	c.Translation.SourceLanguage = os.Getenv("SOURCE_LANGUAGE")
	c.Translation.TargetLanguage = os.Getenv("TARGET_LANGUAGE")
	c.Translation.ContextBefore, _ = strconv.Atoi(os.Getenv("CONTEXT_BEFORE"))
	c.Translation.ContextAfter, _ = strconv.Atoi(os.Getenv("CONTEXT_AFTER"))
	c.Translation.BatchSize, _ = strconv.Atoi(os.Getenv("TRANSLATION_BATCH_SIZE"))
	c.Translation.ThreadCount, _ = strconv.Atoi(os.Getenv("THREAD_COUNT"))
	c.Translation.RPM, _ = strconv.Atoi(os.Getenv("RPM"))
	c.Translation.EnableReflection, _ = strconv.ParseBool(os.Getenv("ENABLE_REFLECTION"))
	c.Translation.Provider = os.Getenv("LLM_PROVIDER")
	c.Translation.APIKey = os.Getenv("LLM_API_KEY")
	c.Translation.BaseURL = os.Getenv("LLM_BASE_URL")
	c.Translation.Model = os.Getenv("LLM_MODEL")

	if val := os.Getenv("ASR_BACKEND"); val != "" {
		c.ASR.Backend = ASRBackend(val)
	}
	c.ASR.ModelFile = os.Getenv("ASR_MODEL_FILE")
	c.ASR.NumThreads, _ = strconv.Atoi(os.Getenv("ASR_NUM_THREADS"))
	c.ASR.Endpoint = os.Getenv("ASR_ENDPOINT")
	c.ASR.APIKey = os.Getenv("ASR_API_KEY")

	if val := os.Getenv("PERSISTENCE_BACKEND"); val != "" {
		c.Persistence.Backend = PersistenceBackend(val)
	}
	c.Persistence.SQLitePath = os.Getenv("PERSISTENCE_SQLITE_PATH")

	return c, nil
}

// ToEnv renders c as KEY=VALUE lines in the variables FromEnv reads.
// LLM_API_KEY, LLM_BASE_URL, LLM_MODEL and ASR_API_KEY are not rendered.
func (c Config) ToEnv() []string {
	return []string{
		fmt.Sprintf("SAMPLE_RATE=%d", c.Pipeline.SampleRate),
		fmt.Sprintf("FRAME_STRIDE=%d", c.Pipeline.FrameStride),
		fmt.Sprintf("MAX_CHUNK_SECONDS=%g", c.Pipeline.MaxChunkSeconds),
		fmt.Sprintf("SILENCE_THRESHOLD=%g", c.Pipeline.SilenceThreshold),
		fmt.Sprintf("MIN_SILENCE_SECONDS=%g", c.Pipeline.MinSilenceSeconds),
		fmt.Sprintf("WORD_BATCH_SIZE=%d", c.Pipeline.BatchSize),
		fmt.Sprintf("PAUSE_THRESHOLD=%g", c.Pipeline.PauseThreshold),
		fmt.Sprintf("STRONG_PAUSE=%g", c.Pipeline.StrongPause),
		fmt.Sprintf("SHORT_BATCH_WORD_LIMIT=%d", c.Pipeline.ShortBatchWordLimit),
		fmt.Sprintf("MAX_WORDS_PER_LLM_SENTENCE=%d", c.Pipeline.MaxWordsPerLLMSentence),
		fmt.Sprintf("SOURCE_LANGUAGE=%s", c.Translation.SourceLanguage),
		fmt.Sprintf("TARGET_LANGUAGE=%s", c.Translation.TargetLanguage),
		fmt.Sprintf("CONTEXT_BEFORE=%d", c.Translation.ContextBefore),
		fmt.Sprintf("CONTEXT_AFTER=%d", c.Translation.ContextAfter),
		fmt.Sprintf("TRANSLATION_BATCH_SIZE=%d", c.Translation.BatchSize),
		fmt.Sprintf("THREAD_COUNT=%d", c.Translation.ThreadCount),
		fmt.Sprintf("RPM=%d", c.Translation.RPM),
		fmt.Sprintf("ENABLE_REFLECTION=%t", c.Translation.EnableReflection),
		fmt.Sprintf("LLM_PROVIDER=%s", c.Translation.Provider),
		fmt.Sprintf("ASR_BACKEND=%s", c.ASR.Backend),
		fmt.Sprintf("ASR_MODEL_FILE=%s", c.ASR.ModelFile),
		fmt.Sprintf("ASR_NUM_THREADS=%d", c.ASR.NumThreads),
		fmt.Sprintf("ASR_ENDPOINT=%s", c.ASR.Endpoint),
		fmt.Sprintf("PERSISTENCE_BACKEND=%s", c.Persistence.Backend),
		fmt.Sprintf("PERSISTENCE_SQLITE_PATH=%s", c.Persistence.SQLitePath),
	}
}

// ToMap renders c as a JSON-friendly map, e.g. for persisting alongside
// a task in history.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"sample_rate":                c.Pipeline.SampleRate,
		"max_chunk_seconds":          c.Pipeline.MaxChunkSeconds,
		"silence_threshold":          c.Pipeline.SilenceThreshold,
		"min_silence_seconds":        c.Pipeline.MinSilenceSeconds,
		"word_batch_size":            c.Pipeline.BatchSize,
		"pause_threshold":            c.Pipeline.PauseThreshold,
		"strong_pause":               c.Pipeline.StrongPause,
		"short_batch_word_limit":     c.Pipeline.ShortBatchWordLimit,
		"max_words_per_llm_sentence": c.Pipeline.MaxWordsPerLLMSentence,
		"source_language":            c.Translation.SourceLanguage,
		"target_language":            c.Translation.TargetLanguage,
		"context_before":             c.Translation.ContextBefore,
		"context_after":              c.Translation.ContextAfter,
		"translation_batch_size":     c.Translation.BatchSize,
		"thread_count":               c.Translation.ThreadCount,
		"rpm":                        c.Translation.RPM,
		"enable_reflection":          c.Translation.EnableReflection,
		"llm_provider":               c.Translation.Provider,
		"asr_backend":                string(c.ASR.Backend),
		"persistence_backend":        string(c.Persistence.Backend),
	}
}

// FromMap populates c from a map produced by ToMap (or decoded from
// stored JSON, where integers may arrive as float64).
func (c *Config) FromMap(m map[string]any) *Config {
	c.Pipeline.SampleRate = toInt(m["sample_rate"])
	c.Pipeline.MaxChunkSeconds = toFloat(m["max_chunk_seconds"])
	c.Pipeline.SilenceThreshold = toFloat(m["silence_threshold"])
	c.Pipeline.MinSilenceSeconds = toFloat(m["min_silence_seconds"])
	c.Pipeline.BatchSize = toInt(m["word_batch_size"])
	c.Pipeline.PauseThreshold = toFloat(m["pause_threshold"])
	c.Pipeline.StrongPause = toFloat(m["strong_pause"])
	c.Pipeline.ShortBatchWordLimit = toInt(m["short_batch_word_limit"])
	c.Pipeline.MaxWordsPerLLMSentence = toInt(m["max_words_per_llm_sentence"])

	c.Translation.SourceLanguage, _ = m["source_language"].(string)
	c.Translation.TargetLanguage, _ = m["target_language"].(string)
	c.Translation.ContextBefore = toInt(m["context_before"])
	c.Translation.ContextAfter = toInt(m["context_after"])
	c.Translation.BatchSize = toInt(m["translation_batch_size"])
	c.Translation.ThreadCount = toInt(m["thread_count"])
	c.Translation.RPM = toInt(m["rpm"])
	c.Translation.EnableReflection, _ = m["enable_reflection"].(bool)
	c.Translation.Provider, _ = m["llm_provider"].(string)

	if backend, ok := m["asr_backend"].(string); ok {
		c.ASR.Backend = ASRBackend(backend)
	}
	if backend, ok := m["persistence_backend"].(string); ok {
		c.Persistence.Backend = PersistenceBackend(backend)
	}

	return c
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// ParseTerminologyCSV parses a simple two-column CSV ("source,target"
// per line) into translate.TerminologyEntry-shaped pairs, used by the
// CLI's --terminology flag. Kept here (rather than in internal/translate)
// since it's an input-format concern, not part of the engine itself.
func ParseTerminologyCSV(raw string) ([][2]string, error) {
	var out [][2]string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid terminology line %q: expected \"source,target\"", line)
		}
		out = append(out, [2]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])})
	}
	return out, nil
}

