// Package supervisor owns the pipeline's lifecycle: construct every
// component in spec.md §4.8's order, wire their channels together, and
// drain them in order on shutdown. Grounded on the teacher's
// cmd/agent/main.go wiring (device setup, a single cancellation context,
// signal-triggered shutdown) generalized from one monolithic main to a
// set of explicitly constructed, explicitly wired components.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-scribe/internal/config"
	"github.com/lokutor-ai/lokutor-scribe/internal/logging"
	"github.com/lokutor-ai/lokutor-scribe/internal/telemetry"
	"github.com/lokutor-ai/lokutor-scribe/pkg/audio"
	"github.com/lokutor-ai/lokutor-scribe/pkg/hub"
	"github.com/lokutor-ai/lokutor-scribe/pkg/persist"
	"github.com/lokutor-ai/lokutor-scribe/pkg/recognize"
	"github.com/lokutor-ai/lokutor-scribe/pkg/segment"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
	"github.com/lokutor-ai/lokutor-scribe/pkg/transcribe"
	"github.com/lokutor-ai/lokutor-scribe/pkg/translate"
	"github.com/lokutor-ai/lokutor-scribe/pkg/vad"
)

// Summary is the end-of-session report printed to standard output, per
// spec.md §7's named session-summary statistics.
type Summary struct {
	FramesCaptured        uint64
	FramesOverwritten     uint64
	SegmentsEmitted       uint64
	RejectedShort         uint64
	RejectedHallucination uint64
	ModelErrors           uint64
	TranslationFailed     uint64
	SubscribersConnected  uint64
	SlowClientDrops       uint64
	PersistenceErrors     uint64
}

// Supervisor wires and drives every pipeline stage for one session.
type Supervisor struct {
	cfg     config.Config
	sess    *session.State
	logger  logging.Logger
	metrics *telemetry.Metrics

	ring       *audio.RingBuffer
	capture    *audio.Capture
	segmenter  *segment.Segmenter
	pool       *transcribe.Pool
	translator *translate.Translator
	hubServer  *hub.Hub
	persister  *persist.Writer

	rawSegments chan session.Segment // Segmenter -> persistence tap -> poolIn
	poolIn      chan session.Segment
}

// New constructs every pipeline component wired per spec.md §4.8, but
// starts nothing yet. recognizer and translateBackends are supplied by the
// caller (cmd/scribe) since they depend on provider credentials.
func New(cfg config.Config, sessionID string, startedAt time.Time, recognizer recognize.Recognizer, translateBackends []translate.Backend, logger logging.Logger, metrics *telemetry.Metrics) (*Supervisor, error) {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}

	bindAddr := fmt.Sprintf("%s:%d", cfg.Hub.BindAddress, cfg.Hub.Port)
	sess := session.New(sessionID, startedAt, cfg.Persistence.DataDir, bindAddr)

	persister, err := persist.New(persist.Config{
		DataDir:      cfg.Persistence.DataDir,
		SessionID:    sessionID,
		SampleRate:   cfg.SampleRate,
		KeepSegments: cfg.Persistence.KeepSegments,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: construct persistence: %w", err)
	}

	hubCfg := hub.DefaultConfig(bindAddr)
	hubCfg.HistoryCap = cfg.Hub.HistoryCap
	hubCfg.SubscriberQueue = cfg.Hub.SubscriberQueue
	hubCfg.MaxSubscribers = cfg.Hub.MaxSubscribers
	hubCfg.SlowClientGrace = time.Duration(cfg.Hub.SlowClientGraceSec * float64(time.Second))
	hubCfg.ShutdownDrainWait = time.Duration(cfg.Hub.ShutdownDrainSec * float64(time.Second))
	hubServer := hub.New(hubCfg, sess)

	ringCapacity := int(cfg.RingCapacitySec * 1000 / float64(cfg.FrameSizeMs))
	ring := audio.NewRingBuffer(ringCapacity)

	frameDuration := time.Duration(cfg.FrameSizeMs) * time.Millisecond
	segCfg := segment.DefaultConfig(frameDuration)
	segCfg.PreSpeechPad = time.Duration(cfg.PreSpeechPadSec * float64(time.Second))
	segCfg.PostSpeechPad = time.Duration(cfg.PostSpeechPadSec * float64(time.Second))
	segCfg.MinSpeechDuration = time.Duration(cfg.MinSpeechDurationSec * float64(time.Second))
	segCfg.VADWindow = time.Duration(cfg.VADWindowSec * float64(time.Second))
	segCfg.SilenceThreshold = time.Duration(cfg.SilenceThresholdSec * float64(time.Second))

	detector := vad.NewRMSDetector(cfg.VADThreshold)
	rawSegments := make(chan session.Segment, cfg.Workers*2)
	segmenter := segment.New(segCfg, detector, sess, ring, rawSegments, func(err error) {
		logger.Error("segmenter escalation", "err", err)
	})

	poolCfg := transcribe.DefaultConfig(cfg.SampleRate)
	poolCfg.Workers = cfg.Workers
	poolCfg.LanguageHint = session.Language(cfg.LanguageHint)
	poolCfg.HallucinationCfg = transcribe.HallucinationConfig{
		MinTokenRun:    cfg.HallucinationFilter.MinTokenRun,
		MinRepeatCount: cfg.HallucinationFilter.MinRepeatCount,
	}
	poolIn := make(chan session.Segment, cfg.Workers*2)
	pool := transcribe.New(poolCfg, recognizer, poolIn)

	translateCfg := translate.DefaultConfig()
	translateCfg.Enabled = cfg.Translation.Enabled
	translateCfg.TargetLanguage = session.Language(cfg.Translation.TargetLanguage)
	translateCfg.SourceLanguage = session.Language(cfg.Translation.SourceLanguage)
	translateCfg.Concurrency = cfg.Translation.Concurrency
	if cfg.Translation.SourcePolicy == "explicit" {
		translateCfg.SourcePolicy = translate.SourceExplicit
	}
	translator := translate.New(translateCfg, translateBackends, pool.Out())

	capture := audio.NewCapture(ring, cfg.SampleRate, 1, cfg.FrameSizeMs, func() {
		logger.Warn("ring buffer overwrote a frame")
	})

	return &Supervisor{
		cfg:         cfg,
		sess:        sess,
		logger:      logger,
		metrics:     metrics,
		ring:        ring,
		capture:     capture,
		segmenter:   segmenter,
		pool:        pool,
		translator:  translator,
		hubServer:   hubServer,
		persister:   persister,
		rawSegments: rawSegments,
		poolIn:      poolIn,
	}, nil
}

// pipelineDrainTimeout bounds how long the Pool and Translator are given to
// finish draining whatever the Segmenter already queued once shutdown has
// begun. It is a hard backstop against a stuck recognizer or backend call,
// not the normal termination signal: during an ordinary drain, the Pool and
// Translator stop on their own once their input channels close.
const pipelineDrainTimeout = 60 * time.Second

// Run starts every component in spec.md §4.8's startup order (Hub,
// Segmenter, Pool, Translator, Persistence bridge, then Capture last) and
// blocks until ctx is cancelled. Shutdown then proceeds in stage order:
// Capture and the Segmenter react to ctx directly, but the Pool and
// Translator run under a separate context so a cancelled ctx never causes
// them to abandon segments or events still sitting in their input channels
// — they keep draining until the Segmenter's closed channel propagates
// through the persistence tap, with pipelineDrainTimeout as the only thing
// that can force them to stop early. The Hub keeps serving until every
// drained event has been broadcast, and only then sends bye and closes.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	var wg sync.WaitGroup

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := s.hubServer.ListenAndServe(hubCtx); err != nil {
			s.logger.Error("hub listener exited", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.segmenter.Run(ctx); err != nil {
			s.logger.Error("segmenter exited", "err", err)
		}
		close(s.rawSegments)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tapSegments()
	}()

	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.pool.Run(drainCtx, 1)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.translator.Run(drainCtx)
	}()

	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		s.bridgeEvents()
	}()

	if err := s.capture.Start(ctx); err != nil {
		s.logger.Error("capture failed to start", "err", err)
	}

	<-ctx.Done()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(pipelineDrainTimeout):
		s.logger.Warn("pipeline drain exceeded hard timeout, forcing shutdown")
		cancelDrain()
		<-drained
	}
	<-persistDone
	cancelHub()
	<-hubDone

	sessionTimestamp := time.Now().UTC().Format("20060102_150405")
	if err := s.persister.Shutdown(sessionTimestamp); err != nil {
		s.logger.Error("persistence shutdown failed", "err", err)
	}

	return s.summary(), nil
}

// tapSegments writes each segment's PCM to its own WAV file (persisting an
// independent clone, since the segment itself moves on into the pool's
// input) before forwarding it on to the Transcription Pool. The send on
// poolIn is safe to leave blocking: the pool's workers now drain poolIn to
// closure regardless of ctx, so they are never gone while this still has
// segments to hand off.
func (s *Supervisor) tapSegments() {
	defer close(s.poolIn)
	for seg := range s.rawSegments {
		if err := s.persister.WriteSegment(seg.Clone()); err != nil {
			s.logger.Error("persist segment failed", "err", err)
		}
		s.poolIn <- seg
	}
}

// bridgeEvents taps the Translator's output, forwards each event to the
// Hub for broadcast, and persists it — independent of broadcast, per
// spec.md §4.7 ("a persistence failure does not suppress broadcast").
func (s *Supervisor) bridgeEvents() {
	for ev := range s.translator.Out() {
		s.hubServer.Broadcast(ev)
		if err := s.persister.WriteEvent(ev); err != nil {
			s.logger.Error("persist event failed", "err", err)
		}
	}
}

func (s *Supervisor) summary() Summary {
	segCounters := s.segmenter.Counters()
	poolCounters := s.pool.Counters()
	translateCounters := s.translator.Counters()
	hubCounters := s.hubServer.Counters()
	persistCounters := s.persister.Counters()

	return Summary{
		FramesCaptured:        s.ring.Pushed(),
		FramesOverwritten:     s.capture.Drops(),
		SegmentsEmitted:       segCounters.SegmentsEmitted,
		RejectedShort:         segCounters.RejectedShort,
		RejectedHallucination: poolCounters.RejectedHallucination,
		ModelErrors:           poolCounters.ModelFailed,
		TranslationFailed:     translateCounters.TranslationFailed,
		SubscribersConnected:  s.hubServer.SubscribersAccepted(),
		SlowClientDrops:       hubCounters.SlowClientDrops,
		PersistenceErrors:     persistCounters.WriteErrors,
	}
}
