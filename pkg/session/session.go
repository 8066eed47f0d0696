// Package session defines the data types shared across every pipeline stage:
// the utterance Segment, the TranscriptionEvent delivered to subscribers, and
// the process-wide SessionState constructed once by the supervisor and passed
// explicitly to every component. No package-level singletons.
package session

import (
	"sync"
	"time"
)

// Language is a lowercase BCP-47 language tag (e.g. "en", "pt").
type Language string

// Translation is the optional translated form of a TranscriptionEvent.
type Translation struct {
	Text     string   `json:"text"`
	Language Language `json:"language"`
	Backend  string   `json:"backend"`
}

// TranscriptionEvent is the immutable, tagged value delivered to subscribers.
// Id equals the originating segment's id. Extension fields that don't yet
// have a first-class place live in Extras rather than widening this struct.
type TranscriptionEvent struct {
	ID          uint64                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Text        string                 `json:"text"`
	Language    Language               `json:"language"`
	Confidence  *float64               `json:"confidence,omitempty"`
	Translation *Translation           `json:"translation,omitempty"`
	Extras      map[string]interface{} `json:"extras,omitempty"`
}

// Segment is an utterance carved from the audio stream by the Segmenter.
// PCM is an owned, contiguous 16-bit little-endian mono buffer that begins
// with the configured pre-speech pad and ends with the configured
// post-speech pad. Ownership transfers by move across stage boundaries;
// callers that need to keep a copy (e.g. Persistence) must clone PCM.
type Segment struct {
	ID          uint64
	StartTS     time.Time
	EndTS       time.Time
	PCM         []byte
	DurationSec float64
}

// Clone returns a Segment with its own independent copy of PCM, for stages
// (Persistence) that must retain audio beyond the owning stage's lifetime.
func (s Segment) Clone() Segment {
	pcm := make([]byte, len(s.PCM))
	copy(pcm, s.PCM)
	s.PCM = pcm
	return s
}

// State is the process-wide session value created once at startup by the
// Supervisor and destroyed only at shutdown. It carries nothing mutable
// except the fields explicitly guarded below; everything else is set once at
// construction and read thereafter.
type State struct {
	ID          string
	StartedAt   time.Time
	DataDir     string
	BindAddress string

	mu      sync.RWMutex
	counter uint64 // last segment id handed out (0 before the first)
}

// New constructs a session.State with the given id, start time, output
// directory, and hub bind address.
func New(id string, startedAt time.Time, dataDir, bindAddress string) *State {
	return &State{
		ID:          id,
		StartedAt:   startedAt,
		DataDir:     dataDir,
		BindAddress: bindAddress,
	}
}

// NextSegmentID returns the next strictly increasing, gap-free segment id,
// starting at 1. Safe for concurrent use, though spec.md requires only a
// single writer (the Segmenter) in practice.
func (s *State) NextSegmentID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter
}

// FrameTimestamp computes the wall-clock timestamp for a frame index as
// session_start_wallclock + frame_index * frame_duration, so clock drift is a
// function of clock discipline rather than accumulated floating point error.
func (s *State) FrameTimestamp(frameIndex uint64, frameDuration time.Duration) time.Time {
	return s.StartedAt.Add(time.Duration(frameIndex) * frameDuration)
}
