package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-avatar/core/audio"
)

var errClosed = errors.New("device closed")

// Microphone is a mono linear16 capture device.
type Microphone struct {
	mu sync.Mutex

	device     *malgo.Device
	sampleRate int
	// onAudio is read from the device thread without taking mu.
	onAudio atomic.Pointer[func(audio []byte)]
}

func newMicrophone(audioContext *malgo.AllocatedContext, sampleRate int) (*Microphone, error) {
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = 1
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = uint32(sampleRate / 100)
	config.Periods = 3

	m := &Microphone{sampleRate: sampleRate}
	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			if onAudio := m.onAudio.Load(); onAudio != nil {
				captured := make([]byte, n)
				copy(captured, input[:n])
				(*onAudio)(captured)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	m.device = device
	return m, nil
}

func (m *Microphone) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: m.sampleRate, Format: audio.EncodingLinear16}
}

func (m *Microphone) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return errClosed
	}
	m.onAudio.Store(&onAudio)
	if m.device.IsStarted() {
		return nil
	}
	if err := m.device.Start(); err != nil {
		m.onAudio.Store(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onAudio.Store(nil)
	if m.device == nil || !m.device.IsStarted() {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// Close releases the device. Further calls are no-ops.
func (m *Microphone) Close() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()

	if device == nil {
		return nil
	}
	m.onAudio.Store(nil)
	device.Uninit()
	return nil
}
