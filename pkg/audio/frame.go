// Package audio holds the byte-level audio primitives shared by Capture, the
// Ring Buffer, and Persistence: fixed-rate PCM frames, a drop-oldest ring
// buffer, and WAV encode/decode/concatenate helpers.
package audio

// Frame is a contiguous block of signed 16-bit little-endian PCM samples at
// the configured sample rate, single channel, tagged with a monotonic frame
// index. Frames are the only currency between Capture and the Segmenter.
type Frame struct {
	Index uint64
	PCM   []byte
}

// Clone returns a Frame with its own independent copy of PCM.
func (f Frame) Clone() Frame {
	pcm := make([]byte, len(f.PCM))
	copy(pcm, f.PCM)
	f.PCM = pcm
	return f
}
