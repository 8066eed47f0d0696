package transcribe

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-scribe/pkg/recognize"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// mockRecognizer returns a scripted result or error for each call, keyed by
// call count per segment id. An id in failFirst fails only its first call,
// and a non-nil err fails every call, letting tests exercise the
// retry-once-then-skip path deterministically.
type mockRecognizer struct {
	mu        sync.Mutex
	calls     map[uint64]int
	failFirst map[uint64]bool
	texts     map[uint64]string
	err       error
}

func newMockRecognizer() *mockRecognizer {
	return &mockRecognizer{
		calls:     make(map[uint64]int),
		failFirst: make(map[uint64]bool),
		texts:     make(map[uint64]string),
	}
}

func (m *mockRecognizer) Name() string { return "mock" }

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (recognize.Result, error) {
	id := segmentIDFromPCM(pcm)

	m.mu.Lock()
	m.calls[id]++
	call := m.calls[id]
	failFirst := m.failFirst[id]
	text, ok := m.texts[id]
	alwaysErr := m.err
	m.mu.Unlock()

	if alwaysErr != nil {
		return recognize.Result{}, alwaysErr
	}
	if failFirst && call == 1 {
		return recognize.Result{}, fmt.Errorf("mock: transient model error")
	}
	if !ok {
		text = fmt.Sprintf("segment %d text", id)
	}
	return recognize.Result{Text: text, Language: "en"}, nil
}

// segmentIDFromPCM recovers the id a test segment was tagged with: tests
// build PCM as a single byte equal to the id for this purpose.
func segmentIDFromPCM(pcm []byte) uint64 {
	if len(pcm) == 0 {
		return 0
	}
	return uint64(pcm[0])
}

func testSegment(id uint64) session.Segment {
	return session.Segment{
		ID:          id,
		StartTS:     time.Unix(int64(id), 0),
		EndTS:       time.Unix(int64(id)+1, 0),
		PCM:         []byte{byte(id)},
		DurationSec: 1,
	}
}

func TestPoolEmitsEventsInStrictSegmentOrder(t *testing.T) {
	rec := newMockRecognizer()
	in := make(chan session.Segment, 8)
	cfg := DefaultConfig(16000)
	cfg.Workers = 3
	pool := New(cfg, rec, in)

	for _, id := range []uint64{3, 1, 2, 4} {
		in <- testSegment(id)
	}
	close(in)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx, 1)
		close(done)
	}()

	var got []uint64
	for ev := range pool.Out() {
		got = append(got, ev.ID)
	}
	<-done

	assert.Equal(t, []uint64{1, 2, 3, 4}, got)
	assert.EqualValues(t, 4, pool.Counters().Transcribed)
}

func TestPoolRetriesOnceAndRecoversOnSecondAttempt(t *testing.T) {
	rec := newMockRecognizer()
	rec.failFirst[1] = true // recovers on retry
	rec.err = nil

	in := make(chan session.Segment, 2)
	cfg := DefaultConfig(16000)
	cfg.Workers = 1
	pool := New(cfg, rec, in)

	in <- testSegment(1)
	close(in)

	go func() { _ = pool.Run(context.Background(), 1) }()

	ev, ok := <-pool.Out()
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.ID)
	assert.EqualValues(t, 1, pool.Counters().Transcribed)
}

type alwaysFailRecognizer struct{}

func (alwaysFailRecognizer) Name() string { return "always-fail" }
func (alwaysFailRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hint session.Language) (recognize.Result, error) {
	return recognize.Result{}, fmt.Errorf("model unavailable")
}

func TestPoolSkipsIDAfterSecondFailureWithoutStalling(t *testing.T) {
	in := make(chan session.Segment, 3)
	cfg := DefaultConfig(16000)
	cfg.Workers = 1
	pool := New(cfg, alwaysFailRecognizer{}, in)

	in <- testSegment(1)
	close(in)

	go func() { _ = pool.Run(context.Background(), 1) }()

	select {
	case _, ok := <-pool.Out():
		if ok {
			t.Fatal("expected no event for a permanently failing segment")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool stalled instead of skipping the failed id")
	}
	assert.EqualValues(t, 1, pool.Counters().ModelFailed)
}

func TestPoolRejectsHallucinatedTextAndAdvancesNextID(t *testing.T) {
	rec := newMockRecognizer()
	rec.texts[1] = "check check check check"
	rec.texts[2] = "a real transcript"

	in := make(chan session.Segment, 2)
	cfg := DefaultConfig(16000)
	cfg.Workers = 2
	pool := New(cfg, rec, in)

	in <- testSegment(1)
	in <- testSegment(2)
	close(in)

	go func() { _ = pool.Run(context.Background(), 1) }()

	ev, ok := <-pool.Out()
	require.True(t, ok)
	assert.Equal(t, uint64(2), ev.ID)
	assert.Equal(t, "a real transcript", ev.Text)
	assert.EqualValues(t, 1, pool.Counters().RejectedHallucination)
}

func TestPoolDrainsPendingSegmentsOnGracefulInputClose(t *testing.T) {
	rec := newMockRecognizer()
	in := make(chan session.Segment, 3)
	cfg := DefaultConfig(16000)
	cfg.Workers = 2
	pool := New(cfg, rec, in)

	in <- testSegment(1)
	in <- testSegment(2)
	in <- testSegment(3)
	close(in)

	runDone := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), 1)
		close(runDone)
	}()

	var got []uint64
	for ev := range pool.Out() {
		got = append(got, ev.ID)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after draining a closed input")
	}

	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestPoolDrainsBufferedSegmentsAfterContextCancelled(t *testing.T) {
	rec := newMockRecognizer()
	in := make(chan session.Segment, 3)
	cfg := DefaultConfig(16000)
	cfg.Workers = 2
	pool := New(cfg, rec, in)

	in <- testSegment(1)
	in <- testSegment(2)
	in <- testSegment(3)
	close(in)

	// A context cancelled before (or during) the drain must not cause the
	// pool to abandon segments already sitting in In.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runDone := make(chan struct{})
	go func() {
		_ = pool.Run(ctx, 1)
		close(runDone)
	}()

	var got []uint64
	for ev := range pool.Out() {
		got = append(got, ev.ID)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after draining with ctx already cancelled")
	}

	assert.Equal(t, []uint64{1, 2, 3}, got)
}
