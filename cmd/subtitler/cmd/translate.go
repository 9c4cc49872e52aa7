package cmd

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/pipeline"
	"github.com/aitranslate/subtitler/internal/progress"
	"github.com/aitranslate/subtitler/internal/subtitle"
)

func translateCmd() *cobra.Command {
	var (
		output      string
		format      string
		sourceLang  string
		targetLang  string
		terminology string
		rpm         int
		threads     int
	)

	cmd := &cobra.Command{
		Use:   "translate <srt-file>",
		Short: "Translate an existing subtitle file's entries",
		Long:  `Runs the translation engine (C8) over a parsed SRT file's entries, writing a subtitle file with both original and translated text.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runTranslate(c, args[0], output, format, sourceLang, targetLang, terminology, rpm, threads)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output subtitle file path (default: <input>.translated.<format>)")
	cmd.Flags().StringVar(&format, "format", "srt", "output subtitle format: srt or vtt")
	cmd.Flags().StringVar(&sourceLang, "source-lang", "", "source language of the input entries")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "target language to translate into (required)")
	cmd.Flags().StringVar(&terminology, "terminology", "", "path to a CSV file of source,target terminology pairs")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "cap translation requests per minute (0 disables the limiter)")
	cmd.Flags().IntVar(&threads, "threads", 0, "bounded concurrency for translation (0 uses the default)")
	_ = cmd.MarkFlagRequired("target-lang")

	return cmd
}

func runTranslate(c *cobra.Command, inputPath, output, format, sourceLang, targetLang, terminologyPath string, rpm, threads int) error {
	ctx := c.Context()

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input file: %w", err)
	}

	entries, err := subtitle.ParseSRT(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse srt: %w", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyTranslationFlags(&cfg, sourceLang, targetLang, rpm, threads)
	cfg.SetDefaults()

	if err := cfg.IsValid(); err != nil {
		return err
	}

	terms, err := loadTerminology(terminologyPath)
	if err != nil {
		return err
	}

	if output == "" {
		ext := filepath.Ext(inputPath)
		output = inputPath[:len(inputPath)-len(ext)] + ".translated." + format
	}

	persistence, closePersistence, err := buildPersistence(cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePersistence(); err != nil {
			slog.Warn("failed to close persistence", slog.String("err", err.Error()))
		}
	}()

	completer := buildCompleter(cfg.Translation)
	if completer == nil {
		return fmt.Errorf("no LLM credentials configured (set LLM_API_KEY)")
	}

	deps := pipeline.Deps{Completer: completer, Persistence: persistence}

	sink := progress.SinkFunc(func(e progress.Event) {
		slog.Info("translation progress", slog.String("kind", e.Kind.String()), slog.Int("tokens_delta", e.TokensDelta))
	})

	slog.Info("starting translation", slog.String("file", inputPath), slog.String("target_lang", targetLang))
	taskID, err := pipeline.Translate(ctx, deps, "", filepath.Base(inputPath), entries, terms, cfg, sink, tokenFromContext(ctx))
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}

	task, err := persistence.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load translated task: %w", err)
	}
	slog.Info("translation complete", slog.String("task_id", taskID), slog.Int("entries", len(task.Entries)))

	return writeSubtitleFile(output, format, task.Entries)
}
