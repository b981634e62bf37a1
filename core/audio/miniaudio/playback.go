package miniaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-avatar/core/playback"
)

// Speaker plays scheduled units on the default output device.
type Speaker struct {
	mu sync.Mutex

	device   *malgo.Device
	timeline *playback.Timeline
	// buffer is only touched from the device thread.
	buffer []float32
}

func newSpeaker(audioContext *malgo.AllocatedContext, sampleRate int) (*Speaker, error) {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(sampleRate)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = uint32(sampleRate / 50)
	config.Periods = 3

	s := &Speaker{timeline: playback.NewTimeline(sampleRate)}
	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{Data: s.render})
	if err != nil {
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	s.device = device
	return s, nil
}

// Play implements [playback.Output].
func (s *Speaker) Play(unit playback.Unit) (playback.Handle, error) {
	return s.timeline.Play(unit)
}

func (s *Speaker) render(output, _ []byte, frameCount uint32) {
	n := int(frameCount)
	if len(output) < n*2 {
		n = len(output) / 2
	}
	if cap(s.buffer) < n {
		s.buffer = make([]float32, n)
	}
	samples := s.buffer[:n]
	s.timeline.Fill(samples, time.Now())

	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(toInt16(sample)))
	}
}

func (s *Speaker) close() {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}

func toInt16(sample float32) int16 {
	scaled := float64(sample) * math.MaxInt16
	switch {
	case scaled > math.MaxInt16:
		return math.MaxInt16
	case scaled < math.MinInt16:
		return math.MinInt16
	}
	return int16(scaled)
}
