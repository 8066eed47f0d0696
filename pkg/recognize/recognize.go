// Package recognize wraps speech-recognition model backends behind the
// single interface the Transcription Pool consumes. Grounded on the
// teacher's pkg/providers/stt package (GroqSTT, OpenAISTT, DeepgramSTT,
// AssemblyAISTT), extended from a bare transcript string to the
// (text, language, confidence) triple spec.md's Transcription Pool
// contract names, since the model is explicitly out of scope but the shape
// of what it returns is not.
package recognize

import (
	"context"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// Result is what a Recognizer extracts from one segment's PCM.
type Result struct {
	Text       string
	Language   session.Language
	Confidence *float64
}

// Recognizer is the black-box speech-recognition model contract: given a
// segment's mono 16-bit PCM at sampleRate and an optional language hint,
// produce the best-effort transcript. Implementations must return
// (Result{}, err) rather than a partial Result when the call fails
// entirely; the Pool treats any non-nil error as a model failure subject
// to its retry-once policy.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (Result, error)
	Name() string
}
