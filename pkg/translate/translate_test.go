package translate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

type fakeBackend struct {
	name string
	fn   func(ctx context.Context, text string, src, tgt session.Language) (string, error)
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	return f.fn(ctx, text, src, tgt)
}

func TestTranslatorFallsBackToSecondBackendOnPrimaryFailure(t *testing.T) {
	primary := &fakeBackend{name: "primary", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		return "", fmt.Errorf("primary: http 500")
	}}
	secondary := &fakeBackend{name: "secondary", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		return "OLÁ", nil
	}}

	in := make(chan session.TranscriptionEvent, 1)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TargetLanguage = "pt"
	tr := New(cfg, []Backend{primary, secondary}, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "hello", Language: "en"}
	close(in)

	go func() { _ = tr.Run(context.Background()) }()

	ev, ok := <-tr.Out()
	require.True(t, ok)
	require.NotNil(t, ev.Translation)
	assert.Equal(t, "OLÁ", ev.Translation.Text)
	assert.Equal(t, session.Language("pt"), ev.Translation.Language)
	assert.Equal(t, "secondary", ev.Translation.Backend)
	assert.EqualValues(t, 0, tr.Counters().TranslationFailed)
}

func TestTranslatorForwardsEventUntranslatedWhenAllBackendsFail(t *testing.T) {
	fail := &fakeBackend{name: "fail", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		return "", fmt.Errorf("down")
	}}

	in := make(chan session.TranscriptionEvent, 1)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TargetLanguage = "pt"
	tr := New(cfg, []Backend{fail}, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "hello", Language: "en"}
	close(in)

	go func() { _ = tr.Run(context.Background()) }()

	ev, ok := <-tr.Out()
	require.True(t, ok)
	assert.Nil(t, ev.Translation)
	assert.EqualValues(t, 1, tr.Counters().TranslationFailed)
}

func TestTranslatorPassthroughWhenDisabled(t *testing.T) {
	in := make(chan session.TranscriptionEvent, 1)
	cfg := DefaultConfig()
	cfg.Enabled = false
	tr := New(cfg, nil, in)

	in <- session.TranscriptionEvent{ID: 5, Text: "unchanged"}
	close(in)

	go func() { _ = tr.Run(context.Background()) }()

	ev, ok := <-tr.Out()
	require.True(t, ok)
	assert.Equal(t, "unchanged", ev.Text)
	assert.Nil(t, ev.Translation)
}

func TestTranslatorPreservesInputOrder(t *testing.T) {
	slow := &fakeBackend{name: "slow", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		if text == "first" {
			time.Sleep(30 * time.Millisecond)
		}
		return text + "-translated", nil
	}}

	in := make(chan session.TranscriptionEvent, 2)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Concurrency = 2
	cfg.TargetLanguage = "pt"
	tr := New(cfg, []Backend{slow}, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "first", Language: "en"}
	in <- session.TranscriptionEvent{ID: 2, Text: "second", Language: "en"}
	close(in)

	go func() { _ = tr.Run(context.Background()) }()

	var ids []uint64
	for ev := range tr.Out() {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestTranslatorSkipsWhenSourceEqualsTarget(t *testing.T) {
	called := false
	backend := &fakeBackend{name: "b", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		called = true
		return "x", nil
	}}

	in := make(chan session.TranscriptionEvent, 1)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TargetLanguage = "en"
	tr := New(cfg, []Backend{backend}, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "hi", Language: "en"}
	close(in)

	go func() { _ = tr.Run(context.Background()) }()

	ev, ok := <-tr.Out()
	require.True(t, ok)
	assert.Nil(t, ev.Translation)
	assert.False(t, called)
}

func TestTranslatorDrainsBufferedEventsAfterContextCancelled(t *testing.T) {
	backend := &fakeBackend{name: "b", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		return text + "-translated", nil
	}}

	in := make(chan session.TranscriptionEvent, 3)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TargetLanguage = "pt"
	tr := New(cfg, []Backend{backend}, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "one", Language: "en"}
	in <- session.TranscriptionEvent{ID: 2, Text: "two", Language: "en"}
	in <- session.TranscriptionEvent{ID: 3, Text: "three", Language: "en"}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runDone := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(runDone)
	}()

	var ids []uint64
	for ev := range tr.Out() {
		ids = append(ids, ev.ID)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after draining with ctx already cancelled")
	}

	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestTranslatorPassthroughDrainsBufferedEventsAfterContextCancelled(t *testing.T) {
	in := make(chan session.TranscriptionEvent, 3)
	cfg := DefaultConfig()
	cfg.Enabled = false
	tr := New(cfg, nil, in)

	in <- session.TranscriptionEvent{ID: 1, Text: "one"}
	in <- session.TranscriptionEvent{ID: 2, Text: "two"}
	in <- session.TranscriptionEvent{ID: 3, Text: "three"}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runDone := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(runDone)
	}()

	var ids []uint64
	for ev := range tr.Out() {
		ids = append(ids, ev.ID)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("passthrough did not return after draining with ctx already cancelled")
	}

	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestRESTBackendTranslatesViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translated_text":"ciao"}`))
	}))
	defer srv.Close()

	b := NewRESTBackend("local_rest", srv.URL, "key", "", 0)
	text, err := b.Translate(context.Background(), "hello", "en", "it")
	require.NoError(t, err)
	assert.Equal(t, "ciao", text)
}

func TestRESTBackendReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewRESTBackend("remote_rest_primary", srv.URL, "", "", 0)
	_, err := b.Translate(context.Background(), "hello", "en", "it")
	assert.Error(t, err)
}

func TestNoneBackendReturnsInputUnchanged(t *testing.T) {
	b := NoneBackend{}
	text, err := b.Translate(context.Background(), "hello", "en", "pt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestRateLimitedFailsClosedWhenBucketExhausted(t *testing.T) {
	inner := &fakeBackend{name: "inner", fn: func(ctx context.Context, text string, src, tgt session.Language) (string, error) {
		return "ok", nil
	}}
	rl := NewRateLimited(inner, 1)

	_, err := rl.Translate(context.Background(), "a", "en", "pt")
	require.NoError(t, err)

	_, err = rl.Translate(context.Background(), "b", "en", "pt")
	assert.ErrorIs(t, err, ErrRateLimited)
}
