package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// RESTBackend is a generic HTTP translation backend, covering spec.md
// §4.5's local_rest/remote_rest_primary/remote_rest_secondary backend
// kinds: all three are the same wire contract at different endpoints.
// Grounded on the teacher's HTTP provider shape (bytes.Buffer + json
// encode, bearer/custom auth header, non-200 treated as failure) shared
// across pkg/providers/{stt,llm}.
type RESTBackend struct {
	name       string
	endpoint   string
	apiKey     string
	authHeader string // header name for apiKey; defaults to Authorization
	client     *http.Client
}

// NewRESTBackend builds a REST-backed translation Backend. authHeader
// defaults to "Authorization" with a "Bearer " prefix if empty.
func NewRESTBackend(name, endpoint, apiKey, authHeader string, timeout time.Duration) *RESTBackend {
	if authHeader == "" {
		authHeader = "Authorization"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTBackend{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		authHeader: authHeader,
		client:     &http.Client{Timeout: timeout},
	}
}

func (b *RESTBackend) Name() string { return b.name }

type restTranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type restTranslateResponse struct {
	Text string `json:"translated_text"`
}

func (b *RESTBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	payload, err := json.Marshal(restTranslateRequest{
		Text:   text,
		Source: string(src),
		Target: string(tgt),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		if b.authHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
		} else {
			req.Header.Set(b.authHeader, b.apiKey)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: %s request failed: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("translate: %s error (status %d): %s", b.name, resp.StatusCode, body)
	}

	var parsed restTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("translate: %s decode response: %w", b.name, err)
	}
	if parsed.Text == "" {
		return "", fmt.Errorf("translate: %s returned empty translation", b.name)
	}
	return parsed.Text, nil
}
