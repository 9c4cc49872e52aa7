package cmd

import (
	"context"

	"github.com/aitranslate/subtitler/internal/progress"
)

type tokenCtxKey struct{}

// WithToken attaches a cancellation token to ctx, for main to thread a
// signal-driven token through cobra's command context.
func WithToken(ctx context.Context, token *progress.Token) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// tokenFromContext returns the token attached via WithToken, or a fresh,
// never-cancelled one if none was attached (e.g. in tests that invoke a
// RunE directly without going through main).
func tokenFromContext(ctx context.Context) *progress.Token {
	if t, ok := ctx.Value(tokenCtxKey{}).(*progress.Token); ok && t != nil {
		return t
	}
	return progress.NewToken()
}
