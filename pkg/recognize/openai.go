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

// OpenAIRecognizer mirrors GroqRecognizer against OpenAI's own Whisper
// endpoint, grounded on the teacher's pkg/providers/stt/openai.go.
type OpenAIRecognizer struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewOpenAIRecognizer(apiKey, model string) *OpenAIRecognizer {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIRecognizer{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
		client: http.DefaultClient,
	}
}

func (o *OpenAIRecognizer) Name() string { return "openai" }

func (o *OpenAIRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (Result, error) {
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", o.model); err != nil {
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
	if _, err := part.Write(wavData); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("recognize: openai error (status %d): %s", resp.StatusCode, respBody)
	}

	var parsed verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("recognize: decode openai response: %w", err)
	}

	return Result{
		Text:       parsed.Text,
		Language:   session.Language(parsed.Language),
		Confidence: avgLogprobConfidence(parsed.Segments),
	}, nil
}
