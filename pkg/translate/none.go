package translate

import (
	"context"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// NoneBackend is the always-succeeding identity backend named in spec.md
// §4.5's recognized backend set ("none"): it returns the input text
// unchanged, useful as a terminal fallback that can never itself fail, or
// for local testing without a real translation service configured.
type NoneBackend struct{}

func (NoneBackend) Name() string { return "none" }

func (NoneBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	return text, nil
}
