// Package portaudio provides the microphone and speaker of a session on top of
// PortAudio's blocking streams.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
)

var errClosed = errors.New("stream closed")

// Client initializes PortAudio for the lifetime of the process. bufferSize is
// the number of frames read or written per blocking call.
type Client struct {
	mu sync.Mutex

	bufferSize int
	sampleRate int
	speaker    *Speaker
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = audio.DefaultSampleRate / 50
	}
	return &Client{bufferSize: bufferSize, sampleRate: audio.DefaultSampleRate}, nil
}

// AcquireMicrophone opens the default input stream. It satisfies
// [mic.Acquirer].
func (c *Client) AcquireMicrophone(_ context.Context) (mic.Device, error) {
	in := make([]int16, c.bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.sampleRate), c.bufferSize, in)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	return &Microphone{stream: stream, in: in, sampleRate: c.sampleRate}, nil
}

// Speaker opens the default output stream on first use.
func (c *Client) Speaker() (*Speaker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.speaker != nil {
		return c.speaker, nil
	}

	out := make([]float32, c.bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(c.sampleRate), c.bufferSize, out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	speaker := &Speaker{
		stream:   stream,
		out:      out,
		timeline: playback.NewTimeline(c.sampleRate),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go speaker.run()
	c.speaker = speaker
	return speaker, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	speaker := c.speaker
	c.speaker = nil
	c.mu.Unlock()

	var errs error
	if speaker != nil {
		errs = speaker.close()
	}
	if err := portaudio.Terminate(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to terminate portaudio: %w", err))
	}
	return errs
}

// Microphone reads fixed-size buffers from a blocking input stream.
type Microphone struct {
	mu sync.Mutex

	stream     *portaudio.Stream
	in         []int16
	sampleRate int
	cancel     context.CancelFunc
	done       chan struct{}
}

func (m *Microphone) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: m.sampleRate, Format: audio.EncodingLinear16}
}

func (m *Microphone) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return errClosed
	}
	if m.cancel != nil {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.read(ctx, m.done, onAudio)
	return nil
}

func (m *Microphone) read(ctx context.Context, done chan struct{}, onAudio func(audio []byte)) {
	defer close(done)

	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				logger.Warn("failed to read from input stream", "error", err)
				return
			}
		}

		captured := make([]byte, len(m.in)*2)
		for i, sample := range m.in {
			binary.LittleEndian.PutUint16(captured[i*2:], uint16(sample))
		}
		onAudio(captured)
	}
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopLocked()
}

func (m *Microphone) stopLocked() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil
	<-m.done

	if err := m.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return nil
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	errs := m.stopLocked()
	if err := m.stream.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close input stream: %w", err))
	}
	m.stream = nil
	return errs
}

// Speaker writes the scheduled timeline to a blocking output stream. The
// blocking write paces the loop.
type Speaker struct {
	stream   *portaudio.Stream
	out      []float32
	timeline *playback.Timeline

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// Play implements [playback.Output].
func (s *Speaker) Play(unit playback.Unit) (playback.Handle, error) {
	return s.timeline.Play(unit)
}

func (s *Speaker) run() {
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.timeline.Fill(s.out, time.Now())
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write to output stream", "error", err)
			return
		}
	}
}

func (s *Speaker) close() error {
	var errs error
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		if err := s.stream.Stop(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to stop output stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to close output stream: %w", err))
		}
	})
	return errs
}
