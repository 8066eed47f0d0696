package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// CaptureState is the lifecycle of a Capture instance, per spec.md §4.1.
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureRunning
	CaptureDraining
	CaptureStopped
	CaptureFailed
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRunning:
		return "running"
	case CaptureDraining:
		return "draining"
	case CaptureStopped:
		return "stopped"
	case CaptureFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// frameAssembler slices a stream of raw PCM reads into fixed-size Frames,
// zero-padding a short final read and carrying any leftover bytes forward
// into the next call. Kept independent of malgo so it can be exercised by
// tests without a real audio device.
type frameAssembler struct {
	frameBytes int
	carry      []byte
	nextIndex  uint64
	underruns  uint64
}

func newFrameAssembler(frameBytes int) *frameAssembler {
	if frameBytes < 2 {
		frameBytes = 2
	}
	return &frameAssembler{frameBytes: frameBytes}
}

// Feed appends raw bytes and returns zero or more complete Frames. A read
// shorter than one full frame's worth of bytes is carried forward rather
// than padded immediately, so padding (and the underrun it implies) only
// happens when Flush is called at stream end.
func (a *frameAssembler) Feed(data []byte) []Frame {
	a.carry = append(a.carry, data...)

	var out []Frame
	for len(a.carry) >= a.frameBytes {
		pcm := make([]byte, a.frameBytes)
		copy(pcm, a.carry[:a.frameBytes])
		a.carry = a.carry[a.frameBytes:]
		out = append(out, Frame{Index: a.nextIndex, PCM: pcm})
		a.nextIndex++
	}
	return out
}

// Flush zero-pads any partial trailing bytes into one final short frame and
// counts it as a device underrun, per spec.md's frame-assembly edge case.
func (a *frameAssembler) Flush() *Frame {
	if len(a.carry) == 0 {
		return nil
	}
	pcm := make([]byte, a.frameBytes)
	copy(pcm, a.carry)
	a.carry = nil
	atomic.AddUint64(&a.underruns, 1)
	f := Frame{Index: a.nextIndex, PCM: pcm}
	a.nextIndex++
	return &f
}

func (a *frameAssembler) Underruns() uint64 {
	return atomic.LoadUint64(&a.underruns)
}

// Capture drives a malgo capture-only device, assembles raw reads into
// fixed-size Frames, and pushes them non-blockingly into a RingBuffer.
// Grounded on the teacher's cmd/agent/main.go onSamples callback and malgo
// device setup, stripped of its duplex playback and echo-driven RMS gating
// (there is no synthesized audio in this pipeline to echo against).
type Capture struct {
	sampleRate int
	channels   int

	ring *RingBuffer

	mu        sync.Mutex
	state     CaptureState
	lastErr   error
	assembler *frameAssembler
	drops     uint64

	onDrop func() // invoked (outside the lock) whenever a Push overwrites a frame

	ctx     context.Context
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
}

// NewCapture constructs a Capture targeting the given ring buffer. frameMs is
// the frame duration in milliseconds (spec.md §6 frame_ms); sampleRate and
// channels describe the PCM format (mono 16-bit is the only supported mode).
func NewCapture(ring *RingBuffer, sampleRate, channels, frameMs int, onDrop func()) *Capture {
	frameBytes := (sampleRate * channels * 2 * frameMs) / 1000
	return &Capture{
		sampleRate: sampleRate,
		channels:   channels,
		ring:       ring,
		state:      CaptureIdle,
		assembler:  newFrameAssembler(frameBytes),
		onDrop:     onDrop,
	}
}

func (c *Capture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Capture) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Capture) Underruns() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assembler.Underruns()
}

func (c *Capture) Drops() uint64 {
	return atomic.LoadUint64(&c.drops)
}

// Start opens the capture device and begins streaming frames into the ring
// buffer until ctx is cancelled or Stop is called.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CaptureIdle {
		c.mu.Unlock()
		return fmt.Errorf("audio: capture already started (state=%s)", c.state)
	}
	c.mu.Unlock()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("audio: init malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.channels)
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(_, pInput []byte, _ uint32) {
		if len(pInput) == 0 {
			return
		}
		c.mu.Lock()
		frames := c.assembler.Feed(pInput)
		c.mu.Unlock()
		c.pushAll(frames)
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		mctx.Uninit()
		c.fail(err)
		return fmt.Errorf("audio: init malgo device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		c.fail(err)
		return fmt.Errorf("audio: start malgo device: %w", err)
	}

	c.mu.Lock()
	c.ctx = ctx
	c.mctx = mctx
	c.device = device
	c.state = CaptureRunning
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

func (c *Capture) pushAll(frames []Frame) {
	for _, f := range frames {
		if overwritten := c.ring.Push(f); overwritten > 0 {
			atomic.AddUint64(&c.drops, uint64(overwritten))
			if c.onDrop != nil {
				c.onDrop()
			}
		}
	}
}

// Stop drains any partial trailing frame and tears the device down,
// transitioning Running -> Draining -> Stopped. Safe to call more than once.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.state != CaptureRunning {
		c.mu.Unlock()
		return
	}
	c.state = CaptureDraining
	device := c.device
	mctx := c.mctx
	c.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if mctx != nil {
		mctx.Uninit()
	}

	c.mu.Lock()
	final := c.assembler.Flush()
	c.mu.Unlock()
	if final != nil {
		c.pushAll([]Frame{*final})
	}

	c.mu.Lock()
	c.state = CaptureStopped
	c.mu.Unlock()
}

func (c *Capture) fail(err error) {
	c.mu.Lock()
	c.state = CaptureFailed
	c.lastErr = err
	c.mu.Unlock()
}
