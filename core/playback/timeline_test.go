package playback

import (
	"testing"
	"time"
)

func constantSamples(n int, value float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestTimelinePlaysUnitsAtTheirStart(t *testing.T) {
	timeline := NewTimeline(1000)
	now := time.Unix(100, 0)

	_, _ = timeline.Play(Unit{Samples: constantSamples(3, 0.5), SampleRate: 1000, StartAt: now.Add(2 * time.Millisecond)})
	_, _ = timeline.Play(Unit{Samples: constantSamples(2, 0.25), SampleRate: 1000, StartAt: now.Add(5 * time.Millisecond)})

	out := make([]float32, 8)
	written := timeline.Fill(out, now)

	expected := []float32{0, 0, 0.5, 0.5, 0.5, 0.25, 0.25, 0}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, out)
		}
	}
	if written != 5 {
		t.Fatalf("expected 5 samples from units, got %d", written)
	}
	if pending := timeline.Pending(); pending != 0 {
		t.Fatalf("expected nothing pending, got %d", pending)
	}
}

func TestTimelineSkipsStoppedUnits(t *testing.T) {
	timeline := NewTimeline(1000)
	now := time.Unix(100, 0)

	first, _ := timeline.Play(Unit{Samples: constantSamples(4, 0.5), SampleRate: 1000, StartAt: now})
	_, _ = timeline.Play(Unit{Samples: constantSamples(2, 0.25), SampleRate: 1000, StartAt: now.Add(4 * time.Millisecond)})

	out := make([]float32, 2)
	timeline.Fill(out, now)
	first.Stop()

	out = make([]float32, 4)
	timeline.Fill(out, now.Add(2*time.Millisecond))
	expected := []float32{0, 0, 0.25, 0.25}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("expected %v after stop, got %v", expected, out)
		}
	}
}

func TestTimelineResamplesToDeviceRate(t *testing.T) {
	timeline := NewTimeline(2000)
	now := time.Unix(100, 0)

	_, _ = timeline.Play(Unit{Samples: constantSamples(10, 0.5), SampleRate: 1000, StartAt: now})

	out := make([]float32, 40)
	if written := timeline.Fill(out, now); written != 20 {
		t.Fatalf("expected 20 resampled samples, got %d", written)
	}
}
