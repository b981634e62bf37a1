package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/generation"
)

type recordingOutput struct {
	mu      sync.Mutex
	units   []Unit
	stopped int
	err     error
}

type recordingHandle struct {
	output *recordingOutput
	once   sync.Once
}

func (h *recordingHandle) Stop() {
	h.once.Do(func() {
		h.output.mu.Lock()
		h.output.stopped++
		h.output.mu.Unlock()
	})
}

func (o *recordingOutput) Play(unit Unit) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.units = append(o.units, unit)
	return &recordingHandle{output: o}, nil
}

func (o *recordingOutput) snapshot() ([]Unit, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	units := make([]Unit, len(o.units))
	copy(units, o.units)
	return units, o.stopped
}

// pcmChunk returns linear16 audio lasting samples/16 milliseconds at 16kHz.
func pcmChunk(samples int) []byte {
	return make([]byte, samples*2)
}

func newTestBuffer(t *testing.T, output Output, opts ...TurnBufferOption) (*TurnBuffer, *generation.Guard, chan Result) {
	t.Helper()

	results := make(chan Result, 4)
	guard := &generation.Guard{}
	opts = append([]TurnBufferOption{
		WithEncoding(audio.GetDefaultEncodingInfo()),
		WithResultCallback(func(result Result) { results <- result }),
	}, opts...)
	return NewTurnBuffer(NewScheduler(output), guard, opts...), guard, results
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()

	select {
	case result := <-results:
		return result
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn result")
		return Result{}
	}
}

func permutations(values []int) [][]int {
	if len(values) <= 1 {
		return [][]int{append([]int(nil), values...)}
	}

	var out [][]int
	for i := range values {
		rest := make([]int, 0, len(values)-1)
		rest = append(rest, values[:i]...)
		rest = append(rest, values[i+1:]...)
		for _, perm := range permutations(rest) {
			out = append(out, append([]int{values[i]}, perm...))
		}
	}
	return out
}

func TestChunksPlayInIndexOrderForEveryArrivalPermutation(t *testing.T) {
	for _, order := range permutations([]int{0, 1, 2, 3, 4}) {
		output := &recordingOutput{}
		buffer, guard, results := newTestBuffer(t, output)

		buffer.Begin(7, guard.Current())
		for _, index := range order {
			if !buffer.Push(Chunk{TurnID: 7, Index: index, PCM: pcmChunk(16)}) {
				t.Fatalf("expected chunk %d to be accepted for arrival order %v", index, order)
			}
		}
		buffer.End(7)

		result := awaitResult(t, results)
		if result.Outcome != OutcomeCompleted || result.Played != 5 {
			t.Fatalf("expected completed turn with 5 chunks for order %v, got %+v", order, result)
		}

		units, _ := output.snapshot()
		for i, unit := range units {
			if unit.Index != i {
				t.Fatalf("expected unit %d to have index %d for arrival order %v, got %d", i, i, order, unit.Index)
			}
			if i > 0 && unit.StartAt.Before(units[i-1].EndAt()) {
				t.Fatalf("expected no overlap between chunk %d and %d for arrival order %v", i-1, i, order)
			}
		}
	}
}

func TestStaleTurnChunkIsNeverScheduled(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, _ := newTestBuffer(t, output)

	buffer.Begin(1, guard.Current())
	buffer.Begin(2, guard.Advance())

	if buffer.Push(Chunk{TurnID: 1, Index: 0, PCM: pcmChunk(16)}) {
		t.Fatalf("expected chunk of previous turn to be discarded")
	}

	time.Sleep(20 * time.Millisecond)
	if units, _ := output.snapshot(); len(units) != 0 {
		t.Fatalf("expected no scheduled units, got %d", len(units))
	}
}

func TestCancelStopsScheduledAudioAndKeepsPlayIndex(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, results := newTestBuffer(t, output)

	buffer.Begin(3, guard.Current())
	buffer.Push(Chunk{TurnID: 3, Index: 0, PCM: pcmChunk(16000)})
	buffer.Push(Chunk{TurnID: 3, Index: 1, PCM: pcmChunk(16000)})

	waitFor(t, "both chunks scheduled", func() bool { return buffer.NextPlayIndex() == 2 })

	buffer.Cancel()

	if _, stopped := output.snapshot(); stopped != 2 {
		t.Fatalf("expected 2 stopped units, got %d", stopped)
	}
	if got := buffer.NextPlayIndex(); got != 2 {
		t.Fatalf("expected play index to stay at 2 after cancel, got %d", got)
	}
	if buffer.Push(Chunk{TurnID: 3, Index: 2, PCM: pcmChunk(16)}) {
		t.Fatalf("expected chunks of a cancelled turn to be discarded")
	}

	select {
	case result := <-results:
		t.Fatalf("expected no result for a cancelled turn, got %+v", result)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestMissingChunkTimesOut(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, results := newTestBuffer(t, output, WithChunkTimeout(40*time.Millisecond))

	buffer.Begin(1, guard.Current())
	buffer.Push(Chunk{TurnID: 1, Index: 1, PCM: pcmChunk(16)})

	result := awaitResult(t, results)
	if result.Outcome != OutcomeTimedOut || !errors.Is(result.Err, ErrChunkTimeout) {
		t.Fatalf("expected timed out result, got %+v", result)
	}
	if buffer.IsActive() {
		t.Fatalf("expected buffer to stop accepting chunks after timeout")
	}
}

func TestStreamErrorStopsDraining(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, results := newTestBuffer(t, output)

	buffer.Begin(1, guard.Current())
	buffer.Fail(1, errors.New("tts failed"))

	if result := awaitResult(t, results); result.Outcome != OutcomeStreamError {
		t.Fatalf("expected stream error outcome, got %+v", result)
	}
}

func TestUndecodableChunkReportsPlaybackError(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, results := newTestBuffer(t, output)

	buffer.Begin(1, guard.Current())
	buffer.Push(Chunk{TurnID: 1, Index: 0, PCM: []byte{1, 2, 3}})

	result := awaitResult(t, results)
	if result.Outcome != OutcomePlaybackError || !errors.Is(result.Err, audio.ErrOddPCMLength) {
		t.Fatalf("expected playback error outcome, got %+v", result)
	}
}

func TestResultIsDroppedAfterGenerationAdvances(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, results := newTestBuffer(t, output, WithChunkTimeout(30*time.Millisecond))

	buffer.Begin(1, guard.Current())
	guard.Advance()

	select {
	case result := <-results:
		t.Fatalf("expected stale turn to report nothing, got %+v", result)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestSchedulerChainsBurstsWithoutGaps(t *testing.T) {
	output := &recordingOutput{}
	now := time.Unix(100, 0)
	scheduler := NewScheduler(output, WithClock(func() time.Time { return now }))

	first, err := scheduler.Schedule(Unit{Index: 0, Samples: make([]float32, 1600), SampleRate: 16000})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, _ := scheduler.Schedule(Unit{Index: 1, Samples: make([]float32, 1600), SampleRate: 16000})

	if !first.StartAt.Equal(now) {
		t.Fatalf("expected first unit to start now, got %s", first.StartAt)
	}
	if !second.StartAt.Equal(first.EndAt()) {
		t.Fatalf("expected second unit to start at %s, got %s", first.EndAt(), second.StartAt)
	}
	if !scheduler.IsPlaying() {
		t.Fatalf("expected scheduler to report playing")
	}

	if stopped := scheduler.HardStop(); stopped != 2 {
		t.Fatalf("expected 2 units stopped, got %d", stopped)
	}
	if scheduler.IsPlaying() {
		t.Fatalf("expected scheduler to be idle after hard stop")
	}
}

func TestSchedulerAppliesStartLeadAfterIdle(t *testing.T) {
	output := &recordingOutput{}
	now := time.Unix(100, 0)
	scheduler := NewScheduler(output, WithClock(func() time.Time { return now }), WithStartLead(50*time.Millisecond))

	unit, _ := scheduler.Schedule(Unit{Samples: make([]float32, 16), SampleRate: 16000})
	if want := now.Add(50 * time.Millisecond); !unit.StartAt.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, unit.StartAt)
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func TestSchedulerRejectsUnitsPreparedBeforeHardStop(t *testing.T) {
	output := &recordingOutput{}
	scheduler := NewScheduler(output)

	token := scheduler.StopToken()
	scheduler.HardStop()

	if _, err := scheduler.ScheduleFor(token, Unit{Samples: make([]float32, 16), SampleRate: 16000}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if units, _ := output.snapshot(); len(units) != 0 {
		t.Fatalf("expected nothing handed to the output, got %d units", len(units))
	}
	if !scheduler.DrainedAt().IsZero() {
		t.Fatalf("expected the timeline to stay empty, drained at %s", scheduler.DrainedAt())
	}
}

func TestCancelDuringDecodeKeepsChunkOffOutput(t *testing.T) {
	output := &recordingOutput{}
	buffer, guard, _ := newTestBuffer(t, output)

	// Large chunks keep the drain goroutine busy decoding, so Cancel lands
	// between taking a chunk and scheduling it.
	const samplesPerChunk = 256 * 1024
	for round := 0; round < 20; round++ {
		turnID := round * 2
		buffer.Begin(turnID, guard.Current())
		for index := 0; index < 3; index++ {
			buffer.Push(Chunk{TurnID: turnID, Index: index, PCM: pcmChunk(samplesPerChunk)})
		}
		waitFor(t, "drain to take the first chunk", func() bool { return buffer.NextPlayIndex() > 0 })

		guard.Advance()
		buffer.Cancel()
		afterCancel, _ := output.snapshot()

		time.Sleep(5 * time.Millisecond)
		if units, _ := output.snapshot(); len(units) != len(afterCancel) {
			t.Fatalf("round %d: expected no units after cancel, got %d more", round, len(units)-len(afterCancel))
		}

		nextTurn := turnID + 1
		buffer.Begin(nextTurn, guard.Current())
		buffer.Push(Chunk{TurnID: nextTurn, Index: 0, PCM: pcmChunk(160)})
		waitFor(t, "next turn to be scheduled", func() bool {
			units, _ := output.snapshot()
			return len(units) > 0 && units[len(units)-1].TurnID == nextTurn
		})
		units, _ := output.snapshot()
		if start := units[len(units)-1].StartAt; start.After(time.Now().Add(time.Second)) {
			t.Fatalf("round %d: expected next turn to start right away, queued until %s", round, start)
		}

		guard.Advance()
		buffer.Cancel()
	}
}
