package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// DeepgramRecognizer is grounded on the teacher's
// pkg/providers/stt/deepgram.go, extended to request language detection
// (when no hint is given) and to surface the alternative's confidence
// score rather than discarding it.
type DeepgramRecognizer struct {
	apiKey     string
	url        string
	sampleRate int
	client     *http.Client
}

func NewDeepgramRecognizer(apiKey string, sampleRate int) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		sampleRate: sampleRate,
		client:     http.DefaultClient,
	}
}

func (d *DeepgramRecognizer) Name() string { return "deepgram" }

func (d *DeepgramRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (Result, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return Result{}, err
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if hint != "" {
		params.Set("language", string(hint))
	} else {
		params.Set("detect_language", "true")
	}
	u.RawQuery = params.Encode()

	if sampleRate <= 0 {
		sampleRate = d.sampleRate
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(pcm))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", sampleRate))

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("recognize: deepgram error (status %d): %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Results struct {
			Channels []struct {
				DetectedLanguage string `json:"detected_language"`
				Alternatives     []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("recognize: decode deepgram response: %w", err)
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return Result{}, nil
	}

	ch := parsed.Results.Channels[0]
	alt := ch.Alternatives[0]
	lang := hint
	if ch.DetectedLanguage != "" {
		lang = session.Language(ch.DetectedLanguage)
	}
	confidence := alt.Confidence
	return Result{
		Text:       alt.Transcript,
		Language:   lang,
		Confidence: &confidence,
	}, nil
}
