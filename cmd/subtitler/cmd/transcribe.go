package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aitranslate/subtitler/internal/config"
	"github.com/aitranslate/subtitler/internal/pipeline"
	"github.com/aitranslate/subtitler/internal/progress"
	"github.com/aitranslate/subtitler/internal/subtitle"
	"github.com/aitranslate/subtitler/internal/translate"
)

func transcribeCmd() *cobra.Command {
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
		Use:   "transcribe <audio-or-video-file>",
		Short: "Transcribe a media file into a time-coded subtitle track",
		Long: `Runs the full decode -> silence-detect -> chunk -> transcribe -> batch ->
align -> assemble pipeline over a media file, writing an SRT or VTT file.

When --target-lang is set, the translation engine also runs over the
resulting entries before the file is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runTranscribe(c, args[0], output, format, sourceLang, targetLang, terminology, rpm, threads)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output subtitle file path (default: <input> with .srt/.vtt)")
	cmd.Flags().StringVar(&format, "format", "srt", "output subtitle format: srt or vtt")
	cmd.Flags().StringVar(&sourceLang, "source-lang", "", "source language hint for sentence alignment and translation")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "translate the transcript into this language")
	cmd.Flags().StringVar(&terminology, "terminology", "", "path to a CSV file of source,target terminology pairs")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "cap translation requests per minute (0 disables the limiter)")
	cmd.Flags().IntVar(&threads, "threads", 0, "bounded concurrency for alignment and translation (0 uses the default)")

	return cmd
}

func runTranscribe(c *cobra.Command, inputPath, output, format, sourceLang, targetLang, terminologyPath string, rpm, threads int) error {
	ctx := c.Context()

	audioBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input file: %w", err)
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
		output = deriveOutputPath(inputPath, format)
	}

	transcriber, closeTranscriber, err := buildTranscriber(cfg.ASR)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTranscriber(); err != nil {
			slog.Warn("failed to release transcriber", slog.String("err", err.Error()))
		}
	}()

	persistence, closePersistence, err := buildPersistence(cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePersistence(); err != nil {
			slog.Warn("failed to close persistence", slog.String("err", err.Error()))
		}
	}()

	deps := pipeline.Deps{
		Transcriber: transcriber,
		Completer:   buildCompleter(cfg.Translation),
		Persistence: persistence,
	}

	sink := progress.SinkFunc(func(e progress.Event) {
		slog.Info("pipeline progress", slog.String("kind", e.Kind.String()), slog.Int("current", e.Current), slog.Int("total", e.Total))
	})

	slog.Info("starting transcription", slog.String("file", inputPath))
	taskID, entries, err := pipeline.Run(ctx, deps, audioBytes, filepath.Base(inputPath), terms, cfg, sink, tokenFromContext(ctx))
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	slog.Info("transcription complete", slog.String("task_id", taskID), slog.Int("entries", len(entries)))

	return writeSubtitleFile(output, format, entries)
}

func applyTranslationFlags(cfg *config.Config, sourceLang, targetLang string, rpm, threads int) {
	if sourceLang != "" {
		cfg.Translation.SourceLanguage = sourceLang
	}
	if targetLang != "" {
		cfg.Translation.TargetLanguage = targetLang
	}
	if rpm > 0 {
		cfg.Translation.RPM = rpm
	}
	if threads > 0 {
		cfg.Translation.ThreadCount = threads
	}
}

func loadTerminology(path string) ([]translate.TerminologyEntry, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read terminology file: %w", err)
	}
	pairs, err := config.ParseTerminologyCSV(string(raw))
	if err != nil {
		return nil, err
	}
	entries := make([]translate.TerminologyEntry, len(pairs))
	for i, p := range pairs {
		entries[i] = translate.TerminologyEntry{Source: p[0], Target: p[1]}
	}
	return entries, nil
}

func deriveOutputPath(inputPath, format string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + "." + format
}

func writeSubtitleFile(path, format string, entries []subtitle.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	switch format {
	case "vtt":
		err = subtitle.WriteVTT(f, entries)
	default:
		err = subtitle.WriteSRT(f, entries)
	}
	if err != nil {
		return fmt.Errorf("write subtitles: %w", err)
	}

	slog.Info("wrote subtitle file", slog.String("path", path), slog.Int("entries", len(entries)))
	return nil
}
