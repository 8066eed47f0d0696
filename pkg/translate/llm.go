package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// translatePrompt is the fixed, translate-only instruction sent as the
// system message to every LLM backend. Unlike the teacher's LLM clients
// (general chat completion over arbitrary message history), a translation
// backend only ever sees a single-turn request, so history/role bookkeeping
// is dropped entirely.
func translatePrompt(src, tgt session.Language) string {
	source := "the source language"
	if src != "" {
		source = string(src)
	}
	return fmt.Sprintf(
		"Translate the user's message from %s to %s. Reply with only the translation, no commentary, no quotes.",
		source, tgt,
	)
}

// AnthropicBackend translates via Anthropic's Messages API, adapted from
// the teacher's pkg/providers/llm/anthropic.go AnthropicLLM down to a
// single-turn translate call (system prompt + one user message instead of
// a rolling conversation).
type AnthropicBackend struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicBackend{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
		client: http.DefaultClient,
	}
}

func (a *AnthropicBackend) Name() string { return "anthropic" }

func (a *AnthropicBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	payload := map[string]interface{}{
		"model":      a.model,
		"system":     translatePrompt(src, tgt),
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: anthropic error (status %d)", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("translate: no content returned from anthropic")
	}
	return strings.TrimSpace(result.Content[0].Text), nil
}

// OpenAIBackend translates via OpenAI's chat completions API, adapted from
// the teacher's pkg/providers/llm/openai.go OpenAILLM.
type OpenAIBackend struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIBackend{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
		client: http.DefaultClient,
	}
}

func (o *OpenAIBackend) Name() string { return "openai" }

func (o *OpenAIBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	payload := map[string]interface{}{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": translatePrompt(src, tgt)},
			{"role": "user", "content": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: openai error (status %d)", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("translate: no choices returned from openai")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// GoogleBackend translates via Gemini's generateContent API, adapted from
// the teacher's pkg/providers/llm/google.go GoogleLLM.
type GoogleBackend struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewGoogleBackend(apiKey, model string) *GoogleBackend {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleBackend{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
		client: http.DefaultClient,
	}
}

func (g *GoogleBackend) Name() string { return "google" }

func (g *GoogleBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": []map[string]string{{"text": translatePrompt(src, tgt) + "\n\n" + text}},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: google error (status %d)", resp.StatusCode)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("translate: no response from google")
	}
	return strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text), nil
}
