package segment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-scribe/pkg/audio"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// markerDetector classifies a window as speech when its first byte is
// nonzero, giving tests full control over VAD outcomes without depending on
// RMS amplitude math.
type markerDetector struct {
	err func() error
}

func (d *markerDetector) Detect(window []byte) (bool, error) {
	if d.err != nil {
		if e := d.err(); e != nil {
			return false, e
		}
	}
	return len(window) > 0 && window[0] != 0, nil
}

func (d *markerDetector) Name() string { return "marker" }

func speechFrame(idx uint64) audio.Frame  { return audio.Frame{Index: idx, PCM: []byte{1}} }
func silenceFrame(idx uint64) audio.Frame { return audio.Frame{Index: idx, PCM: []byte{0}} }

func feedAndWait(t *testing.T, ring *audio.RingBuffer, frames []audio.Frame) {
	t.Helper()
	for _, f := range frames {
		ring.Push(f)
	}
}

func newTestSegmenter(t *testing.T, cfg Config, det *markerDetector, out chan session.Segment, onEscalate func(error)) *segmenterHarness {
	t.Helper()
	ring := audio.NewRingBuffer(256)
	sess := session.New("test", time.Unix(0, 0), t.TempDir(), "127.0.0.1:0")
	sg := New(cfg, det, sess, ring, out, onEscalate)
	return &segmenterHarness{ring: ring, seg: sg}
}

type segmenterHarness struct {
	ring *audio.RingBuffer
	seg  *Segmenter
}

func baseConfig() Config {
	return Config{
		FrameDuration:             100 * time.Millisecond,
		PreSpeechPad:              200 * time.Millisecond,
		PostSpeechPad:             200 * time.Millisecond,
		MinSpeechDuration:         500 * time.Millisecond,
		VADWindow:                 100 * time.Millisecond,
		SilenceThreshold:          300 * time.Millisecond,
		MaxConsecutiveVADFailures: 3,
		PopDeadline:               20 * time.Millisecond,
	}
}

func TestSegmenterCleanUtteranceEmitsOneSegment(t *testing.T) {
	cfg := baseConfig()
	det := &markerDetector{}
	out := make(chan session.Segment, 4)
	h := newTestSegmenter(t, cfg, det, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.seg.Run(ctx) }()

	var frames []audio.Frame
	idx := uint64(0)
	for i := 0; i < 3; i++ {
		frames = append(frames, silenceFrame(idx))
		idx++
	}
	for i := 0; i < 10; i++ { // 1.0s of speech
		frames = append(frames, speechFrame(idx))
		idx++
	}
	for i := 0; i < 6; i++ { // enough trailing silence to cross SilenceThreshold
		frames = append(frames, silenceFrame(idx))
		idx++
	}
	feedAndWait(t, h.ring, frames)

	var seg session.Segment
	select {
	case seg = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no segment emitted")
	}

	assert.Equal(t, uint64(1), seg.ID)
	assert.InDelta(t, 1.4, seg.DurationSec, 0.21)
	assert.GreaterOrEqual(t, seg.DurationSec, cfg.MinSpeechDuration.Seconds())

	cancel()
	require.NoError(t, <-done)

	counters := h.seg.Counters()
	assert.Equal(t, uint64(1), counters.SegmentsEmitted)
	assert.Equal(t, uint64(0), counters.RejectedShort)
}

func TestSegmenterTooShortBlipIsRejected(t *testing.T) {
	cfg := baseConfig()
	cfg.PreSpeechPad = 0
	cfg.PostSpeechPad = 0
	cfg.MinSpeechDuration = 700 * time.Millisecond

	det := &markerDetector{}
	out := make(chan session.Segment, 4)
	h := newTestSegmenter(t, cfg, det, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.seg.Run(ctx) }()

	var frames []audio.Frame
	idx := uint64(0)
	for i := 0; i < 2; i++ {
		frames = append(frames, silenceFrame(idx))
		idx++
	}
	for i := 0; i < 3; i++ { // 0.3s of speech
		frames = append(frames, speechFrame(idx))
		idx++
	}
	for i := 0; i < 6; i++ {
		frames = append(frames, silenceFrame(idx))
		idx++
	}
	feedAndWait(t, h.ring, frames)

	select {
	case seg := <-out:
		t.Fatalf("expected no segment, got %+v", seg)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)

	counters := h.seg.Counters()
	assert.Equal(t, uint64(0), counters.SegmentsEmitted)
	assert.Equal(t, uint64(1), counters.RejectedShort)
}

func TestSegmenterFrameGapClosesOpenSegmentImmediately(t *testing.T) {
	cfg := baseConfig()
	cfg.MinSpeechDuration = 0
	det := &markerDetector{}
	out := make(chan session.Segment, 4)
	h := newTestSegmenter(t, cfg, det, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.seg.Run(ctx) }()

	feedAndWait(t, h.ring, []audio.Frame{
		silenceFrame(0),
		speechFrame(1),
		speechFrame(2),
		speechFrame(3),
	})
	time.Sleep(50 * time.Millisecond)
	// Index jumps from 3 to 10: frames 4-9 simulate a Capture-side drop.
	feedAndWait(t, h.ring, []audio.Frame{speechFrame(10)})

	var seg session.Segment
	select {
	case seg = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected the open segment to close on frame gap")
	}
	assert.Equal(t, uint64(1), seg.ID)

	cancel()
	require.NoError(t, <-done)

	counters := h.seg.Counters()
	assert.Equal(t, uint64(6), counters.DroppedFrames)
}

func TestSegmenterEscalatesAfterConsecutiveVADFailures(t *testing.T) {
	cfg := baseConfig()
	failErr := errors.New("boom")
	det := &markerDetector{err: func() error { return failErr }}

	escalated := make(chan error, 1)
	out := make(chan session.Segment, 4)
	h := newTestSegmenter(t, cfg, det, out, func(err error) {
		select {
		case escalated <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.seg.Run(ctx) }()

	var frames []audio.Frame
	for i := uint64(0); i < uint64(cfg.MaxConsecutiveVADFailures+1); i++ {
		frames = append(frames, silenceFrame(i))
	}
	feedAndWait(t, h.ring, frames)

	select {
	case err := <-escalated:
		assert.ErrorIs(t, err, failErr)
	case <-time.After(time.Second):
		t.Fatal("expected escalation after consecutive VAD failures")
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, h.seg.Counters().VADFailures, uint64(cfg.MaxConsecutiveVADFailures))
}
