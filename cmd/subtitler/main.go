package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aitranslate/subtitler/cmd/subtitler/cmd"
	"github.com/aitranslate/subtitler/internal/progress"
)

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if source, ok := a.Value.Any().(*slog.Source); ok && source != nil {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelInfo,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token := progress.NewToken()
	go func() {
		<-ctx.Done()
		slog.Info("received interrupt, cancelling run")
		token.Cancel()
	}()

	if err := cmd.Root().ExecuteContext(cmd.WithToken(ctx, token)); err != nil {
		os.Exit(1)
	}
}
