package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/lokutor-scribe/pkg/audio"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// GroqRecognizer transcribes via Groq's OpenAI-compatible Whisper endpoint,
// grounded on the teacher's pkg/providers/stt/groq.go, with
// response_format switched to verbose_json so detected language and a
// confidence estimate (derived from segment avg_logprob) survive the
// round trip instead of being discarded.
type GroqRecognizer struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewGroqRecognizer constructs a GroqRecognizer. An empty model defaults to
// whisper-large-v3-turbo, matching the teacher's default.
func NewGroqRecognizer(apiKey, model string) *GroqRecognizer {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqRecognizer{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
		client: http.DefaultClient,
	}
}

func (g *GroqRecognizer) Name() string { return "groq" }

type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (g *GroqRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (Result, error) {
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", g.model); err != nil {
		return Result{}, err
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return Result{}, err
	}
	if hint != "" {
		if err := writer.WriteField("language", string(hint)); err != nil {
			return Result{}, err
		}
	}
	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("recognize: groq error (status %d): %s", resp.StatusCode, errBody)
	}

	var parsed verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("recognize: decode groq response: %w", err)
	}

	return Result{
		Text:       parsed.Text,
		Language:   session.Language(parsed.Language),
		Confidence: avgLogprobConfidence(parsed.Segments),
	}, nil
}

// avgLogprobConfidence maps Whisper's per-segment avg_logprob (a negative
// log-probability, roughly [-1, 0] for confident transcriptions) onto a
// [0, 1] confidence score, averaged across segments.
func avgLogprobConfidence(segments []struct {
	AvgLogprob float64 `json:"avg_logprob"`
}) *float64 {
	if len(segments) == 0 {
		return nil
	}
	var sum float64
	for _, s := range segments {
		c := 1 + s.AvgLogprob
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		sum += c
	}
	avg := sum / float64(len(segments))
	return &avg
}
