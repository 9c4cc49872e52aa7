package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/progress"
)

func TestDeriveOutputPath(t *testing.T) {
	require.Equal(t, "movie.srt", deriveOutputPath("movie.mp4", "srt"))
	require.Equal(t, "movie.vtt", deriveOutputPath("movie.mp4", "vtt"))
}

func TestApplyTranslationFlagsOnlyOverridesNonZero(t *testing.T) {
	var cfg config.Config
	cfg.Translation.SourceLanguage = "en"
	cfg.Translation.ThreadCount = 4

	applyTranslationFlags(&cfg, "", "fr", 0, 0)

	require.Equal(t, "en", cfg.Translation.SourceLanguage)
	require.Equal(t, "fr", cfg.Translation.TargetLanguage)
	require.Equal(t, 4, cfg.Translation.ThreadCount)
}

func TestLoadTerminologyEmptyPath(t *testing.T) {
	entries, err := loadTerminology("")
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestLoadTerminologyParsesCSVFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terms.csv")
	require.NoError(t, os.WriteFile(path, []byte("API,interface de programmation\n"), 0o644))

	entries, err := loadTerminology(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "API", entries[0].Source)
	require.Equal(t, "interface de programmation", entries[0].Target)
}

func TestBuildCompleterNoAPIKeyReturnsNil(t *testing.T) {
	require.Nil(t, buildCompleter(config.TranslationConfig{}))
}

func TestBuildPersistenceMemory(t *testing.T) {
	p, closeFn, err := buildPersistence(config.PersistenceConfig{Backend: config.PersistenceBackendMemory})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, closeFn())
}

func TestTokenFromContextReturnsAttachedToken(t *testing.T) {
	token := progress.NewToken()
	ctx := WithToken(context.Background(), token)
	require.Same(t, token, tokenFromContext(ctx))
}

func TestTokenFromContextReturnsFreshTokenWhenUnset(t *testing.T) {
	token := tokenFromContext(context.Background())
	require.NotNil(t, token)
	require.False(t, token.IsCancelled())
}
