// Package translate implements the Translator: an optional stage that
// attaches a translation to each TranscriptionEvent, trying a configured
// ordered list of backends with fallback, per spec.md §4.5. The capability
// set (translate(text, src, tgt) -> Result) replaces the source's
// duck-typed backend-by-name-string selection per spec.md §9's design note.
package translate

import (
	"context"
	"sync"

	"github.com/lokutor-ai/lokutor-scribe/internal/reorder"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// Backend is one translation provider. Name identifies it for the
// TranscriptionEvent.Translation.Backend field.
type Backend interface {
	Translate(ctx context.Context, text string, src, tgt session.Language) (string, error)
	Name() string
}

// SourcePolicy selects how the source language for a translation is
// determined.
type SourcePolicy int

const (
	// SourceDetected uses the event's own Language field.
	SourceDetected SourcePolicy = iota
	// SourceExplicit uses a fixed configured language regardless of what
	// the recognizer detected.
	SourceExplicit
)

// Config controls the Translator.
type Config struct {
	Enabled        bool
	SourcePolicy   SourcePolicy
	SourceLanguage session.Language // used when SourcePolicy == SourceExplicit
	TargetLanguage session.Language
	Concurrency    int // default 1, per spec.md §4.5
	InputCap       int
}

// DefaultConfig returns a disabled Translator with concurrency 1.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Concurrency: 1,
		InputCap:    4,
	}
}

// Counters tracks the session-summary statistics this stage contributes.
type Counters struct {
	Translated        uint64
	TranslationFailed uint64
}

// Translator attaches translations to events, preserving input order via
// the same reorder discipline the Transcription Pool uses, even though the
// default concurrency (1) makes reordering a no-op in practice.
type Translator struct {
	cfg      Config
	backends []Backend

	in  <-chan session.TranscriptionEvent
	out chan session.TranscriptionEvent

	mu       sync.Mutex
	counters Counters
}

// New builds a Translator reading from in (typically the Transcription
// Pool's Out channel) and trying backends in order for each event.
func New(cfg Config, backends []Backend, in <-chan session.TranscriptionEvent) *Translator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.InputCap <= 0 {
		cfg.InputCap = cfg.Concurrency * 2
	}
	return &Translator{
		cfg:      cfg,
		backends: backends,
		in:       in,
		out:      make(chan session.TranscriptionEvent, cfg.InputCap),
	}
}

// Out is the in-order translated event channel, closed once Run returns.
func (t *Translator) Out() <-chan session.TranscriptionEvent {
	return t.out
}

// Counters returns a snapshot of this stage's session-summary statistics.
func (t *Translator) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// Run starts Concurrency worker goroutines, each attaching a translation
// to events pulled from In, re-serializing through a reorder buffer keyed
// by event id so Out always observes the same order the events arrived in.
// Run blocks until In closes and every event already enqueued has been
// translated; ctx bounds the individual Translate calls rather than cutting
// the drain short, so a shutdown deadline belongs on a separate context than
// the one used to stop the stage feeding In.
func (t *Translator) Run(ctx context.Context) error {
	if !t.cfg.Enabled || len(t.backends) == 0 {
		return t.passthrough(ctx)
	}

	firstEvent, gotFirst := t.firstEvent(ctx)
	if !gotFirst {
		close(t.out)
		return nil
	}
	buf := reorder.New[session.TranscriptionEvent](firstEvent.ID, t.cfg.InputCap)

	emitterCtx, stopEmitter := context.WithCancel(context.Background())
	defer stopEmitter()

	var wg sync.WaitGroup
	wg.Add(t.cfg.Concurrency)
	work := make(chan session.TranscriptionEvent, t.cfg.InputCap)
	work <- firstEvent
	// Drains In until the Transcription Pool closes it, ignoring ctx.Done so
	// events already sitting in In are never abandoned mid-drain; ctx still
	// bounds the per-event Translate calls below.
	go func() {
		defer close(work)
		for ev := range t.in {
			work <- ev
		}
	}()

	for i := 0; i < t.cfg.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for ev := range work {
				buf.Put(ev.ID, t.translateOne(ctx, ev))
			}
		}()
	}

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		buf.Run(emitterCtx)
	}()

	go func() {
		defer close(t.out)
		for r := range buf.Out() {
			t.out <- r.Value
		}
	}()

	wg.Wait()
	stopEmitter()
	<-emitDone
	return nil
}

// firstEvent pulls the first event off In so the reorder buffer can be
// constructed with the correct starting id (event ids need not start at 1
// if the pipeline restarted mid-session at a later segment id). An event
// already waiting in In takes priority over an already-cancelled ctx: only
// block on ctx.Done once In has nothing ready to hand over.
func (t *Translator) firstEvent(ctx context.Context) (session.TranscriptionEvent, bool) {
	select {
	case ev, ok := <-t.in:
		return ev, ok
	default:
	}
	select {
	case ev, ok := <-t.in:
		return ev, ok
	case <-ctx.Done():
		return session.TranscriptionEvent{}, false
	}
}

// passthrough forwards events unchanged when translation is disabled or no
// backends are configured. It drains In to closure rather than stopping on
// ctx.Done so the default (translation disabled) path never drops an event
// still in flight when shutdown begins.
func (t *Translator) passthrough(ctx context.Context) error {
	defer close(t.out)
	for ev := range t.in {
		t.out <- ev
	}
	return nil
}

func (t *Translator) translateOne(ctx context.Context, ev session.TranscriptionEvent) session.TranscriptionEvent {
	if ev.Language == t.cfg.TargetLanguage {
		return ev
	}

	src := ev.Language
	if t.cfg.SourcePolicy == SourceExplicit {
		src = t.cfg.SourceLanguage
	}

	for _, backend := range t.backends {
		text, err := backend.Translate(ctx, ev.Text, src, t.cfg.TargetLanguage)
		if err != nil || text == "" {
			continue
		}
		t.mu.Lock()
		t.counters.Translated++
		t.mu.Unlock()
		ev.Translation = &session.Translation{
			Text:     text,
			Language: t.cfg.TargetLanguage,
			Backend:  backend.Name(),
		}
		return ev
	}

	t.mu.Lock()
	t.counters.TranslationFailed++
	t.mu.Unlock()
	return ev
}
