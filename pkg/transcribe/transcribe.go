// Package transcribe implements the Transcription Pool: a bounded set of
// workers running a speech model on segments, emitting TranscriptionEvents
// back in strict segment-id order. Grounded on the teacher's goroutine/
// channel pipeline shape in pkg/orchestrator/managed_stream.go (an STT
// channel feeding a single consumer), generalized here into a fan-out/
// fan-in worker pool with the reorder package supplying the strict-order
// re-serialization the teacher's single-stream design never needed.
package transcribe

import (
	"context"
	"sync"

	"github.com/lokutor-ai/lokutor-scribe/internal/reorder"
	"github.com/lokutor-ai/lokutor-scribe/pkg/recognize"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// Config controls pool sizing and the hallucination filter.
type Config struct {
	Workers          int
	InputCap         int
	SampleRate       int
	LanguageHint     session.Language
	HallucinationCfg HallucinationConfig
}

// DefaultConfig returns spec defaults: 2 workers and InputCap 2*Workers.
// InputCap sizes Out and the reorder buffer; the input channel itself is
// created by the caller.
func DefaultConfig(sampleRate int) Config {
	return Config{
		Workers:          2,
		InputCap:         4,
		SampleRate:       sampleRate,
		HallucinationCfg: DefaultHallucinationConfig(),
	}
}

// Counters tracks the session-summary statistics this stage contributes.
type Counters struct {
	Transcribed           uint64
	ModelFailed           uint64
	RejectedHallucination uint64
}

// Pool reads Segments from In, dispatches them across Workers concurrent
// recognizer calls, and emits TranscriptionEvents on Out in strict
// segment-id order.
type Pool struct {
	cfg       Config
	recognize recognize.Recognizer
	filter    *HallucinationFilter

	in  chan session.Segment
	out chan session.TranscriptionEvent

	mu       sync.Mutex
	counters Counters
}

// New builds a Pool. in must be the channel the Segmenter enqueues Segments
// on; the pool takes ownership of reading it until it closes, whether or not
// Run's ctx has been cancelled.
func New(cfg Config, r recognize.Recognizer, in chan session.Segment) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.InputCap <= 0 {
		cfg.InputCap = cfg.Workers * 2
	}
	return &Pool{
		cfg:       cfg,
		recognize: r,
		filter:    NewHallucinationFilter(cfg.HallucinationCfg),
		in:        in,
		out:       make(chan session.TranscriptionEvent, cfg.InputCap),
	}
}

// Out is the strict-id-order event channel, closed once Run returns.
func (p *Pool) Out() <-chan session.TranscriptionEvent {
	return p.out
}

// Counters returns a snapshot of this pool's session-summary statistics.
func (p *Pool) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// Run starts Workers goroutines draining In, reorders their results, and
// emits onto Out in id order. Run blocks until In closes and every segment
// already enqueued has been resolved or skipped; ctx bounds the individual
// Transcribe calls rather than terminating the drain early, so callers that
// want a hard shutdown deadline must cancel ctx from a separate context than
// the one they use to stop the Segmenter feeding In.
func (p *Pool) Run(ctx context.Context, startID uint64) error {
	buf := reorder.New[session.TranscriptionEvent](startID, p.cfg.InputCap)

	// The reorder buffer's emitter only stops on context cancellation.
	// emitterCtx is detached from ctx and cancelled once the workers finish,
	// so a ctx cancelled early never stops the emitter before every
	// submitted segment has been resolved.
	emitterCtx, stopEmitter := context.WithCancel(context.Background())
	defer stopEmitter()

	var wg sync.WaitGroup
	wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			p.worker(ctx, buf)
		}()
	}

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		buf.Run(emitterCtx)
	}()

	go func() {
		defer close(p.out)
		for r := range buf.Out() {
			p.out <- r.Value
		}
	}()

	wg.Wait()
	stopEmitter()
	<-emitDone
	return nil
}

// worker drains In until the Segmenter (by way of the supervisor's
// persistence tap) closes it, whether or not ctx has already been
// cancelled. A worker that bailed on ctx.Done with In still holding
// buffered segments would abandon them mid-drain and could leave the
// upstream sender blocked forever on a full channel; ctx only bounds the
// individual Transcribe call below.
func (p *Pool) worker(ctx context.Context, buf *reorder.Buffer[session.TranscriptionEvent]) {
	for seg := range p.in {
		p.process(ctx, seg, buf)
	}
}

func (p *Pool) process(ctx context.Context, seg session.Segment, buf *reorder.Buffer[session.TranscriptionEvent]) {
	res, err := p.recognize.Transcribe(ctx, seg.PCM, p.cfg.SampleRate, p.cfg.LanguageHint)
	if err != nil {
		// Retry once with the same segment before giving up.
		res, err = p.recognize.Transcribe(ctx, seg.PCM, p.cfg.SampleRate, p.cfg.LanguageHint)
	}
	if err != nil {
		p.mu.Lock()
		p.counters.ModelFailed++
		p.mu.Unlock()
		buf.Skip(seg.ID)
		return
	}

	if p.filter.IsHallucination(res.Text) {
		p.mu.Lock()
		p.counters.RejectedHallucination++
		p.mu.Unlock()
		buf.Skip(seg.ID)
		return
	}

	p.mu.Lock()
	p.counters.Transcribed++
	p.mu.Unlock()

	buf.Put(seg.ID, session.TranscriptionEvent{
		ID:         seg.ID,
		Timestamp:  seg.EndTS,
		Text:       res.Text,
		Language:   res.Language,
		Confidence: res.Confidence,
	})
}
