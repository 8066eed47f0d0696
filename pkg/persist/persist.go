// Package persist implements spec.md §4.7: write each segment's PCM to a
// per-segment WAV, append transcript/translation lines as text files, and
// on shutdown concatenate all segment WAVs in id order into one combined
// recording. Grounded on the teacher's file-writer discipline absent from
// the teacher itself (pkg/orchestrator never persists to disk) but built
// from pkg/audio's write-to-temp-then-rename primitives and the session
// package's directory layout.
package persist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lokutor-ai/lokutor-scribe/pkg/audio"
	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// Config controls output layout and shutdown behavior.
type Config struct {
	DataDir      string
	SessionID    string
	SampleRate   int
	KeepSegments bool // if true, skip deleting per-segment WAVs after concat
}

// Counters tracks the session-summary statistics this stage contributes.
type Counters struct {
	SegmentsWritten uint64
	WriteErrors     uint64
}

// Writer owns every on-disk artifact for one session: recordings/,
// transcripts/, translations/, and the final combined recording.
type Writer struct {
	cfg Config

	recordingsDir  string
	transcriptPath string
	translatePath  string

	mu             sync.Mutex
	counters       Counters
	segmentPaths   map[uint64]string // id -> path, for ordered concat at shutdown
	transcriptFile *os.File
	translateFile  *os.File
}

// New creates output directories and opens the append-only transcript and
// translation files. Callers must call Shutdown to close them.
func New(cfg Config) (*Writer, error) {
	w := &Writer{
		cfg:           cfg,
		recordingsDir: filepath.Join(cfg.DataDir, "recordings"),
		segmentPaths:  make(map[uint64]string),
	}
	if err := os.MkdirAll(w.recordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create recordings dir: %w", err)
	}
	transcriptsDir := filepath.Join(cfg.DataDir, "transcripts")
	if err := os.MkdirAll(transcriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create transcripts dir: %w", err)
	}
	translationsDir := filepath.Join(cfg.DataDir, "translations")
	if err := os.MkdirAll(translationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create translations dir: %w", err)
	}

	w.transcriptPath = filepath.Join(transcriptsDir, fmt.Sprintf("transcript_%s.txt", cfg.SessionID))
	tf, err := os.OpenFile(w.transcriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("persist: open transcript file: %w", err)
	}
	w.transcriptFile = tf

	w.translatePath = filepath.Join(translationsDir, fmt.Sprintf("translation_%s.txt", cfg.SessionID))
	lf, err := os.OpenFile(w.translatePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		tf.Close()
		return nil, fmt.Errorf("persist: open translation file: %w", err)
	}
	w.translateFile = lf

	return w, nil
}

// WriteSegment writes seg's PCM to recordings/segment_<id>.wav. Disk
// errors are logged by the caller and counted here; persistence never
// back-pressures the live pipeline (spec.md §4.7).
func (w *Writer) WriteSegment(seg session.Segment) error {
	path := filepath.Join(w.recordingsDir, fmt.Sprintf("segment_%d.wav", seg.ID))
	if err := audio.WriteWAVFile(path, seg.PCM, w.cfg.SampleRate); err != nil {
		w.mu.Lock()
		w.counters.WriteErrors++
		w.mu.Unlock()
		return fmt.Errorf("persist: write segment %d: %w", seg.ID, err)
	}

	w.mu.Lock()
	w.segmentPaths[seg.ID] = path
	w.counters.SegmentsWritten++
	w.mu.Unlock()
	return nil
}

// WriteEvent appends one transcript line, and if a translation is
// attached, two translation lines plus a blank separator, per spec.md
// §4.7's append discipline (write-then-flush; a crash mid-append may
// truncate the last line, which is acceptable).
func (w *Writer) WriteEvent(ev session.TranscriptionEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", ev.Language, ev.Text)
	if err := writeAndFlush(w.transcriptFile, line); err != nil {
		w.counters.WriteErrors++
		return fmt.Errorf("persist: append transcript: %w", err)
	}

	if ev.Translation != nil {
		block := fmt.Sprintf("[%s] %s\n[%s] %s\n\n", ev.Language, ev.Text, ev.Translation.Language, ev.Translation.Text)
		if err := writeAndFlush(w.translateFile, block); err != nil {
			w.counters.WriteErrors++
			return fmt.Errorf("persist: append translation: %w", err)
		}
	}
	return nil
}

func writeAndFlush(f *os.File, s string) error {
	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(s); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// Counters returns a snapshot of this stage's session-summary statistics.
func (w *Writer) Counters() Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// Shutdown concatenates all segment WAVs written so far, in ascending id
// order, into combined_recording_<sessionTimestamp>.wav, then deletes the
// per-segment files unless KeepSegments is set. It also closes the
// transcript/translation files.
func (w *Writer) Shutdown(sessionTimestamp string) error {
	w.mu.Lock()
	ids := make([]uint64, 0, len(w.segmentPaths))
	for id := range w.segmentPaths {
		ids = append(ids, id)
	}
	sortUint64s(ids)
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		paths = append(paths, w.segmentPaths[id])
	}
	w.mu.Unlock()

	w.transcriptFile.Close()
	w.translateFile.Close()

	if len(paths) == 0 {
		return nil
	}

	combinedPath := filepath.Join(w.cfg.DataDir, fmt.Sprintf("combined_recording_%s.wav", sessionTimestamp))
	if err := audio.ConcatWAVFiles(combinedPath, paths, w.cfg.SampleRate); err != nil {
		return fmt.Errorf("persist: concat combined recording: %w", err)
	}

	if !w.cfg.KeepSegments {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}
	return nil
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
