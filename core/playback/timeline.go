package playback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
)

// Timeline is an [Output] for devices that pull audio from a callback. Units
// are played at their scheduled start; the device asks for samples with
// [Timeline.Fill].
type Timeline struct {
	mu sync.Mutex

	sampleRate int
	queue      []*timelineUnit
}

type timelineUnit struct {
	samples []float32
	startAt time.Time
	pos     int
	stopped atomic.Bool
}

func (u *timelineUnit) Stop() { u.stopped.Store(true) }

func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Timeline{sampleRate: sampleRate}
}

func (t *Timeline) SampleRate() int { return t.sampleRate }

// Play queues unit, resampled to the device rate if needed.
func (t *Timeline) Play(unit Unit) (Handle, error) {
	samples := unit.Samples
	if unit.SampleRate > 0 && unit.SampleRate != t.sampleRate {
		samples = audio.Resample(samples, unit.SampleRate, t.sampleRate)
	}
	queued := &timelineUnit{samples: samples, startAt: unit.StartAt}

	t.mu.Lock()
	t.queue = append(t.queue, queued)
	t.mu.Unlock()
	return queued, nil
}

// Fill writes the samples due from now on into out and pads with silence.
// It returns how many samples came from queued units.
func (t *Timeline) Fill(out []float32, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	written := 0
	for i := range out {
		out[i] = 0
		at := now.Add(time.Duration(i) * time.Second / time.Duration(t.sampleRate))

		for len(t.queue) > 0 && (t.queue[0].stopped.Load() || t.queue[0].pos >= len(t.queue[0].samples)) {
			t.queue[0] = nil
			t.queue = t.queue[1:]
		}
		if len(t.queue) == 0 {
			continue
		}

		head := t.queue[0]
		if at.Before(head.startAt) {
			continue
		}
		out[i] = head.samples[head.pos]
		head.pos++
		written++
	}
	return written
}

// Pending returns the number of units not yet fully played.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := 0
	for _, unit := range t.queue {
		if !unit.stopped.Load() && unit.pos < len(unit.samples) {
			pending++
		}
	}
	return pending
}
