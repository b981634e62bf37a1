// Package mic owns the microphone for a session and streams fixed-size PCM
// frames to the transport.
package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrReleased         = errors.New("microphone channel already released")
	ErrNoAcquirer       = errors.New("no microphone acquirer configured")
)

const (
	DefaultFrameDuration  = 20 * time.Millisecond
	DefaultGateThreshold  = 0.01
	DefaultHangoverFrames = 8
)

// Device is a capture device handed out by an [Acquirer].
type Device interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	Close() error
}

// Acquirer requests access to the microphone. Implementations return an
// error wrapping [ErrPermissionDenied] when the user refuses.
type Acquirer func(ctx context.Context) (Device, error)

// Sink receives every outbound frame.
type Sink func(frame []byte) error

type Stats struct {
	Frames       int
	SilentFrames int
	Dropped      int
}

// Channel acquires the microphone once and reuses it across starts, resamples
// captured audio to the negotiated rate, applies the noise gate and mute flag,
// and hands fixed-size frames to a [Sink].
type Channel struct {
	mu sync.Mutex

	acquire        Acquirer
	encoding       audio.EncodingInfo
	frameDuration  time.Duration
	gateThreshold  float64
	hangoverFrames int

	device    Device
	sink      Sink
	capturing bool
	released  bool
	acquired  int

	pending  []byte
	gateOpen bool
	hangover int
	stats    Stats

	muted atomic.Bool
}

type ChannelOption func(*Channel)

// WithEncoding sets the format frames are sent in.
func WithEncoding(encoding audio.EncodingInfo) ChannelOption {
	return func(c *Channel) {
		if !encoding.IsZero() {
			c.encoding = encoding
		}
	}
}

func WithFrameDuration(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.frameDuration = d
		}
	}
}

// WithNoiseGate sets the RMS threshold that opens the gate and the number of
// frames it stays open after the level drops. A zero threshold disables it.
func WithNoiseGate(threshold float64, hangoverFrames int) ChannelOption {
	return func(c *Channel) {
		c.gateThreshold = threshold
		c.hangoverFrames = max(hangoverFrames, 0)
	}
}

func NewChannel(acquire Acquirer, opts ...ChannelOption) *Channel {
	c := &Channel{
		acquire:        acquire,
		encoding:       audio.GetDefaultEncodingInfo(),
		frameDuration:  DefaultFrameDuration,
		gateThreshold:  DefaultGateThreshold,
		hangoverFrames: DefaultHangoverFrames,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire requests the microphone if it was not granted yet. It is safe to
// call repeatedly; only the first successful call prompts.
func (c *Channel) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.acquireLocked(ctx)
}

func (c *Channel) acquireLocked(ctx context.Context) error {
	if c.released {
		return ErrReleased
	}
	if c.device != nil {
		return nil
	}
	if c.acquire == nil {
		return ErrNoAcquirer
	}

	device, err := c.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}
	c.device = device
	c.acquired++
	logger.Info("microphone acquired", "sample_rate", device.EncodingInfo().SampleRate)
	return nil
}

// Start begins streaming frames to sink, acquiring the device first if needed.
// Starting an already capturing channel only swaps the sink.
func (c *Channel) Start(ctx context.Context, sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.acquireLocked(ctx); err != nil {
		return err
	}

	c.sink = sink
	if c.capturing {
		return nil
	}

	c.pending = c.pending[:0]
	c.gateOpen = false
	c.hangover = 0
	c.capturing = true
	if err := c.device.StartCapture(ctx, c.onAudio); err != nil {
		c.capturing = false
		return fmt.Errorf("failed to start microphone capture: %w", err)
	}
	return nil
}

// Stop pauses capture and keeps the device for a later [Channel.Start].
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopLocked()
}

func (c *Channel) stopLocked() error {
	if !c.capturing {
		return nil
	}

	c.capturing = false
	c.sink = nil
	c.pending = c.pending[:0]
	if err := c.device.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop microphone capture: %w", err)
	}
	return nil
}

// Release stops capture and gives the device back. Only the first call has
// any effect.
func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}
	c.released = true

	if c.device == nil {
		return nil
	}

	errs := c.stopLocked()
	if err := c.device.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to release microphone: %w", err))
	}
	c.device = nil
	logger.Info("microphone released")
	return errs
}

// SetMuted keeps frames flowing but replaces their content with silence.
func (c *Channel) SetMuted(muted bool) { c.muted.Store(muted) }

func (c *Channel) IsMuted() bool { return c.muted.Load() }

func (c *Channel) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

func (c *Channel) IsReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Acquisitions returns how many times the device was requested.
func (c *Channel) Acquisitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Channel) onAudio(captured []byte) {
	c.mu.Lock()
	if !c.capturing || c.device == nil {
		c.mu.Unlock()
		return
	}

	deviceEncoding := c.device.EncodingInfo()
	if deviceEncoding.SampleRate != c.encoding.SampleRate {
		samples, err := audio.DecodeLinear16(captured)
		if err != nil {
			c.stats.Dropped++
			c.mu.Unlock()
			logger.Warn("dropped malformed microphone buffer", "error", err)
			return
		}
		captured = audio.EncodeLinear16(audio.Resample(samples, deviceEncoding.SampleRate, c.encoding.SampleRate))
	}
	c.pending = append(c.pending, captured...)

	frameSize := c.encoding.BytesFor(c.frameDuration)
	var frames [][]byte
	for frameSize > 0 && len(c.pending) >= frameSize {
		frame := make([]byte, frameSize)
		copy(frame, c.pending[:frameSize])
		c.pending = c.pending[frameSize:]
		frames = append(frames, c.gateLocked(frame))
	}
	sink := c.sink
	c.mu.Unlock()

	if sink == nil {
		return
	}
	for _, frame := range frames {
		if err := sink(frame); err != nil {
			logger.Debug("failed to send microphone frame", "error", err)
			return
		}
	}
}

// gateLocked applies mute and the noise gate to one frame.
func (c *Channel) gateLocked(frame []byte) []byte {
	c.stats.Frames++

	silent := c.muted.Load()
	if !silent && c.gateThreshold > 0 {
		samples, err := audio.DecodeLinear16(frame)
		switch {
		case err != nil:
			silent = true
		case audio.RMS(samples) >= c.gateThreshold:
			c.gateOpen = true
			c.hangover = c.hangoverFrames
		case c.hangover > 0:
			c.hangover--
		default:
			c.gateOpen = false
		}
		silent = silent || !c.gateOpen
	}

	if silent {
		c.stats.SilentFrames++
		clear(frame)
	}
	return frame
}
