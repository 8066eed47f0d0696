package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// AssemblyAIRecognizer keeps the teacher's upload-submit-poll flow from
// pkg/providers/stt/assemblyai.go unchanged, adding language_detection and
// surfacing the returned confidence score.
type AssemblyAIRecognizer struct {
	apiKey    string
	pollEvery time.Duration
	client    *http.Client
}

func NewAssemblyAIRecognizer(apiKey string) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		apiKey:    apiKey,
		pollEvery: 500 * time.Millisecond,
		client:    http.DefaultClient,
	}
}

func (a *AssemblyAIRecognizer) Name() string { return "assemblyai" }

func (a *AssemblyAIRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (Result, error) {
	uploadURL, err := a.upload(ctx, pcm)
	if err != nil {
		return Result{}, err
	}

	transcriptID, err := a.submit(ctx, uploadURL, hint)
	if err != nil {
		return Result{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(a.pollEvery):
			res, status, err := a.getTranscript(ctx, transcriptID)
			if err != nil {
				return Result{}, err
			}
			switch status {
			case "completed":
				return res, nil
			case "error":
				return Result{}, fmt.Errorf("recognize: assemblyai transcription failed")
			}
		}
	}
}

func (a *AssemblyAIRecognizer) upload(ctx context.Context, pcm []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/upload", bytes.NewReader(pcm))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("recognize: decode assemblyai upload response: %w", err)
	}
	return result.UploadURL, nil
}

func (a *AssemblyAIRecognizer) submit(ctx context.Context, uploadURL string, hint session.Language) (string, error) {
	payload := map[string]interface{}{
		"audio_url": uploadURL,
	}
	if hint != "" {
		payload["language_code"] = string(hint)
	} else {
		payload["language_detection"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("recognize: decode assemblyai submit response: %w", err)
	}
	return result.ID, nil
}

func (a *AssemblyAIRecognizer) getTranscript(ctx context.Context, id string) (Result, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.assemblyai.com/v2/transcript/"+id, nil)
	if err != nil {
		return Result{}, "", err
	}
	req.Header.Set("Authorization", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status     string   `json:"status"`
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
		Language   string   `json:"language_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, "", fmt.Errorf("recognize: decode assemblyai transcript response: %w", err)
	}
	return Result{
		Text:       result.Text,
		Language:   session.Language(result.Language),
		Confidence: result.Confidence,
	}, result.Status, nil
}
