// Package segment carves a continuous frame stream into utterance Segments
// using a VAD detector over sliding windows, with pre-/post-speech padding
// and a silence-hold before closing an utterance. Grounded on the teacher's
// RMSVAD-driven ManagedStream.Write state handling in
// pkg/orchestrator/managed_stream.go, rebuilt as a standalone consumer of
// pkg/audio.RingBuffer frames rather than a single monolithic stream object.
package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-scribe/pkg/audio"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
	"github.com/lokutor-ai/lokutor-scribe/pkg/vad"
)

type state int

const (
	stateListening state = iota
	stateRecording
	stateSilencePending
)

// Config holds the six Segmenter parameters from spec.md §4.3, plus the
// frame shape needed to translate durations into frame counts.
type Config struct {
	FrameDuration     time.Duration
	PreSpeechPad      time.Duration
	PostSpeechPad     time.Duration
	MinSpeechDuration time.Duration
	VADWindow         time.Duration
	SilenceThreshold  time.Duration

	// MaxConsecutiveVADFailures is the number of consecutive VAD errors
	// tolerated before the Segmenter escalates to its failure callback.
	MaxConsecutiveVADFailures int

	// PopDeadline bounds how long Run blocks on an empty input ring before
	// re-checking ctx cancellation.
	PopDeadline time.Duration
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig(frameDuration time.Duration) Config {
	return Config{
		FrameDuration:             frameDuration,
		PreSpeechPad:              500 * time.Millisecond,
		PostSpeechPad:             500 * time.Millisecond,
		MinSpeechDuration:         500 * time.Millisecond,
		VADWindow:                 500 * time.Millisecond,
		SilenceThreshold:          1500 * time.Millisecond,
		MaxConsecutiveVADFailures: 10,
		PopDeadline:               200 * time.Millisecond,
	}
}

func (c Config) framesIn(d time.Duration) int {
	if c.FrameDuration <= 0 {
		return 0
	}
	n := int(d / c.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// Counters tracks Segmenter-wide statistics surfaced in the session summary.
type Counters struct {
	RejectedShort   uint64
	DroppedFrames   uint64
	VADFailures     uint64
	SegmentsEmitted uint64
}

// Segmenter consumes Frames from an input ring buffer and emits Segments on
// Out. Counters and the escalation callback are read with the Counters
// method; Run owns all mutable state and must be called from a single
// goroutine.
type Segmenter struct {
	cfg      Config
	detector vad.Detector
	sess     *session.State
	input    *audio.RingBuffer
	out      chan session.Segment

	lookback *audio.RingBuffer // pre-speech pad plus the current VAD window

	onEscalate func(err error)

	counters Counters

	st                state
	buf               []byte
	windowBuf         []byte
	windowFrames      int
	windowFrameCount  int
	postPadFrames     int
	silenceFrameCount int
	startTS           time.Time
	startFrameIdx     uint64
	lastBufFrameIdx   uint64
	silenceAccum      time.Duration
	consecutiveVADErr int
	lastFrameIdx      uint64
	haveLastFrameIdx  bool
}

// New constructs a Segmenter. out is the channel Segments are emitted on;
// the caller owns and closes it only after Run returns. onEscalate, if
// non-nil, is invoked (from Run's goroutine) when MaxConsecutiveVADFailures
// is reached.
func New(cfg Config, detector vad.Detector, sess *session.State, input *audio.RingBuffer, out chan session.Segment, onEscalate func(err error)) *Segmenter {
	preFrames := cfg.framesIn(cfg.PreSpeechPad)
	// The window that first reports speech is already in the lookback when
	// beginRecording snapshots it, so the lookback holds that window on top
	// of the pre-speech pad.
	return &Segmenter{
		cfg:              cfg,
		detector:         detector,
		sess:             sess,
		input:            input,
		out:              out,
		lookback:         audio.NewRingBuffer(preFrames + cfg.framesIn(cfg.VADWindow)),
		onEscalate:       onEscalate,
		windowFrameCount: cfg.framesIn(cfg.VADWindow),
		postPadFrames:    cfg.framesIn(cfg.PostSpeechPad),
	}
}

// Counters returns a snapshot of the Segmenter's running statistics.
func (s *Segmenter) Counters() Counters {
	return s.counters
}

// Run consumes frames from the input ring until ctx is cancelled, driving
// the Listening -> Recording -> Silence_Pending state machine described in
// spec.md §4.3. Any segment still open when ctx is cancelled is emitted
// as-is (mirroring the drop-closes-segment edge case) before Run returns.
func (s *Segmenter) Run(ctx context.Context) error {
	for {
		f, err := s.input.PopOrWait(ctx, s.cfg.PopDeadline)
		if err != nil {
			if errors.Is(err, audio.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				s.closeOpenSegmentAsIs()
				return nil
			}
			return err
		}
		s.handleFrame(f)
	}
}

func (s *Segmenter) handleFrame(f audio.Frame) {
	if s.haveLastFrameIdx && f.Index > s.lastFrameIdx+1 {
		gap := f.Index - s.lastFrameIdx - 1
		s.counters.DroppedFrames += gap
		s.closeOpenSegmentAsIs()
	}
	s.lastFrameIdx = f.Index
	s.haveLastFrameIdx = true

	s.lookback.Push(f)

	switch s.st {
	case stateRecording:
		s.buf = append(s.buf, f.PCM...)
		s.lastBufFrameIdx = f.Index
	case stateSilencePending:
		if s.silenceFrameCount < s.postPadFrames {
			s.buf = append(s.buf, f.PCM...)
			s.lastBufFrameIdx = f.Index
		}
		s.silenceFrameCount++
	}

	s.windowBuf = append(s.windowBuf, f.PCM...)
	s.windowFrames++
	if s.windowFrames < s.windowFrameCount {
		return
	}

	window := s.windowBuf
	s.windowBuf = nil
	s.windowFrames = 0
	s.evaluateWindow(f, window)
}

func (s *Segmenter) evaluateWindow(f audio.Frame, window []byte) {
	speech, err := s.detector.Detect(window)
	if err != nil {
		s.counters.VADFailures++
		s.consecutiveVADErr++
		speech = false
		if s.onEscalate != nil && s.consecutiveVADErr >= s.cfg.MaxConsecutiveVADFailures {
			s.onEscalate(fmt.Errorf("segment: %d consecutive vad failures: %w", s.consecutiveVADErr, err))
		}
	} else {
		s.consecutiveVADErr = 0
	}

	switch s.st {
	case stateListening:
		if speech {
			s.beginRecording(f, window)
		}
	case stateRecording:
		if !speech {
			s.st = stateSilencePending
			s.silenceAccum = s.cfg.VADWindow
			// The window just judged silent is already buffered; it counts
			// toward the post-speech pad.
			s.silenceFrameCount = s.windowFrameCount
			if s.silenceAccum >= s.cfg.SilenceThreshold {
				s.closeSegment(f)
			}
		}
	case stateSilencePending:
		if speech {
			s.st = stateRecording
			s.silenceAccum = 0
			s.silenceFrameCount = 0
			return
		}
		s.silenceAccum += s.cfg.VADWindow
		if s.silenceAccum >= s.cfg.SilenceThreshold {
			s.closeSegment(f)
		}
	}
}

func (s *Segmenter) beginRecording(f audio.Frame, window []byte) {
	s.st = stateRecording
	s.silenceAccum = 0

	pre := s.lookback.SnapshotLast(s.lookback.Len())
	s.buf = nil
	firstIdx := f.Index
	lastIdx := f.Index
	if len(pre) > 0 {
		firstIdx = pre[0].Index
		lastIdx = pre[len(pre)-1].Index
		for _, pf := range pre {
			s.buf = append(s.buf, pf.PCM...)
		}
	}
	s.startFrameIdx = firstIdx
	s.startTS = s.sess.FrameTimestamp(firstIdx, s.cfg.FrameDuration)
	s.lastBufFrameIdx = lastIdx
}

// closeSegment closes a segment reached via the normal Silence_Pending path.
// The segment buffer already holds only up to PostSpeechPad worth of
// trailing silence, counted from the first window judged silent (handleFrame
// stops appending once postPadFrames is reached; a silent window longer than
// PostSpeechPad is kept whole), so end_ts is derived from the last frame actually buffered, not
// from the frame that crossed SilenceThreshold.
func (s *Segmenter) closeSegment(f audio.Frame) {
	endTS := s.sess.FrameTimestamp(s.lastBufFrameIdx, s.cfg.FrameDuration).Add(s.cfg.FrameDuration)
	s.emit(endTS)
	s.resetToListening()
}

func (s *Segmenter) closeOpenSegmentAsIs() {
	if s.st == stateListening {
		return
	}
	endTS := s.sess.FrameTimestamp(s.lastBufFrameIdx, s.cfg.FrameDuration).Add(s.cfg.FrameDuration)
	s.emit(endTS)
	s.resetToListening()
}

func (s *Segmenter) emit(endTS time.Time) {
	duration := endTS.Sub(s.startTS).Seconds()
	if duration < s.cfg.MinSpeechDuration.Seconds() {
		s.counters.RejectedShort++
		return
	}
	seg := session.Segment{
		ID:          s.sess.NextSegmentID(),
		StartTS:     s.startTS,
		EndTS:       endTS,
		PCM:         s.buf,
		DurationSec: duration,
	}
	s.counters.SegmentsEmitted++
	s.out <- seg
}

func (s *Segmenter) resetToListening() {
	s.st = stateListening
	s.buf = nil
	s.windowBuf = nil
	s.windowFrames = 0
	s.silenceAccum = 0
	s.silenceFrameCount = 0
}
