package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteWAVFile writes pcm as a mono 16-bit little-endian WAV file at path,
// using a write-to-temp-then-rename discipline (spec.md §6/§4.7) so a reader
// never observes a partially-written file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wav-tmp-*")
	if err != nil {
		return fmt.Errorf("audio: create temp wav: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(NewWavBuffer(pcm, sampleRate)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("audio: flush wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("audio: close wav temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("audio: rename wav into place: %w", err)
	}
	return nil
}

// ReadWAVPCM reads a mono 16-bit PCM WAV file back and returns its sample
// data chunk, ignoring any chunks other than "fmt " and "data". Used by
// tests and by the combined-recording concatenation below.
func ReadWAVPCM(path string) (pcm []byte, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return readWAVPCM(f)
}

func readWAVPCM(r io.Reader) ([]byte, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var sampleRate int
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("audio: wav missing data chunk")
			}
			return nil, 0, err
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if len(body) >= 8 {
				sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			}
		case "data":
			pcm := make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, 0, fmt.Errorf("audio: read data chunk: %w", err)
			}
			return pcm, sampleRate, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, 0, fmt.Errorf("audio: skip chunk %q: %w", id, err)
			}
		}
	}
}

// ConcatWAVFiles concatenates the PCM data of each input WAV file, in the
// order given, and writes the result as a single WAV to outPath. Per spec.md
// invariant 7, the result equals sample-for-sample the ordered concatenation
// of the per-segment WAVs that were alive at shutdown.
func ConcatWAVFiles(outPath string, inPaths []string, sampleRate int) error {
	var combined []byte
	for _, p := range inPaths {
		pcm, _, err := ReadWAVPCM(p)
		if err != nil {
			return fmt.Errorf("audio: reading %s for concat: %w", p, err)
		}
		combined = append(combined, pcm...)
	}
	return WriteWAVFile(outPath, combined, sampleRate)
}
