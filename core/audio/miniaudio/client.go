// Package miniaudio provides the microphone and speaker of a session on top of
// miniaudio.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/mic"
)

// Client owns the miniaudio context shared by the capture and playback
// devices.
type Client struct {
	mu sync.Mutex

	// audioContext is kept only to uninitialize it
	audioContext *malgo.AllocatedContext
	sampleRate   int
	speaker      *Speaker
	microphones  []*Microphone
}

type ClientOption func(*Client)

// WithSampleRate sets the rate both devices are opened at.
func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
	}

	client := &Client{
		audioContext: audioContext,
		sampleRate:   audio.DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// AcquireMicrophone opens the default capture device. It satisfies
// [mic.Acquirer].
func (c *Client) AcquireMicrophone(_ context.Context) (mic.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	microphone, err := newMicrophone(c.audioContext, c.sampleRate)
	if err != nil {
		return nil, err
	}
	c.microphones = append(c.microphones, microphone)
	return microphone, nil
}

// Speaker opens and starts the default playback device on first use.
func (c *Client) Speaker() (*Speaker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.speaker != nil {
		return c.speaker, nil
	}
	speaker, err := newSpeaker(c.audioContext, c.sampleRate)
	if err != nil {
		return nil, err
	}
	c.speaker = speaker
	return speaker, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for _, microphone := range c.microphones {
		errs = errors.Join(errs, microphone.Close())
	}
	c.microphones = nil
	if c.speaker != nil {
		c.speaker.close()
		c.speaker = nil
	}
	if err := c.audioContext.Uninit(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to uninitialize miniaudio: %w", err))
	}
	c.audioContext.Free()
	return errs
}
