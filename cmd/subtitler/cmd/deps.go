package cmd

import (
	"fmt"

	"github.com/aitranslate/subtitler/internal/asr"
	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/llm"
	"github.com/aitranslate/subtitler/internal/store"
	"github.com/aitranslate/subtitler/internal/store/memstore"
	"github.com/aitranslate/subtitler/internal/transcript"
)

// buildTranscriber resolves the configured ASR backend into a
// transcript.Transcriber, along with a closer for backends that hold
// native resources (whisper.cpp's model context).
func buildTranscriber(cfg config.ASRConfig) (transcript.Transcriber, func() error, error) {
	switch cfg.Backend {
	case config.ASRBackendWhisperCPP:
		w, err := asr.NewWhisperTranscriber(asr.WhisperConfig{
			ModelFile:  cfg.ModelFile,
			NumThreads: cfg.NumThreads,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("whisper.cpp: %w", err)
		}
		return w, w.Destroy, nil
	case config.ASRBackendHTTP:
		return asr.NewHTTPTranscriber(cfg.Endpoint, cfg.APIKey), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ASR backend %q", cfg.Backend)
	}
}

// buildCompleter resolves the configured LLM provider into a
// llm.ChatCompleter. Returns nil when no API key is set, which is valid
// for a transcribe-only run with no target language.
func buildCompleter(cfg config.TranslationConfig) llm.ChatCompleter {
	if cfg.APIKey == "" {
		return nil
	}
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIClient(cfg.APIKey, cfg.Model)
	default:
		return llm.NewAnthropicClient(cfg.APIKey, cfg.Model)
	}
}

// buildPersistence resolves the configured storage backend.
func buildPersistence(cfg config.PersistenceConfig) (store.Persistence, func() error, error) {
	switch cfg.Backend {
	case config.PersistenceBackendMemory:
		return memstore.New(), func() error { return nil }, nil
	case config.PersistenceBackendSQLite:
		s, err := store.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
