// Package playback turns per-turn PCM chunks into gap-free, strictly ordered
// output on an audio device.
//
// [TurnBuffer] reorders chunks of the current turn and feeds them to a
// [Scheduler], which chains each chunk's start time to the end of the previous
// one so bursts never overlap and late chunks never leave a hole.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-avatar/core/generation"
)

var (
	// ErrNoOutput is returned when scheduling without a configured output.
	ErrNoOutput = errors.New("no audio output configured")
	// ErrStopped is returned for a unit prepared before the latest hard stop.
	ErrStopped = errors.New("playback stopped since the unit was prepared")
)

// Unit is one decoded chunk placed on the output timeline.
type Unit struct {
	TurnID     int
	Index      int
	Samples    []float32
	SampleRate int

	StartAt  time.Time
	Duration time.Duration
}

// EndAt returns when the unit stops playing.
func (u Unit) EndAt() time.Time { return u.StartAt.Add(u.Duration) }

// Output is an audio device able to play a unit at its scheduled start.
type Output interface {
	Play(unit Unit) (Handle, error)
}

// Handle controls a unit that was handed to an [Output].
type Handle interface {
	// Stop silences the unit if it has not finished playing yet.
	Stop()
}

type scheduledUnit struct {
	unit   Unit
	handle Handle
	timer  *time.Timer
}

// Scheduler chains units back to back on an [Output].
type Scheduler struct {
	mu sync.Mutex

	output Output
	lead   time.Duration
	now    func() time.Time

	// nextStart is the end time of the last scheduled unit.
	nextStart time.Time
	active    map[uint64]*scheduledUnit
	seq       uint64

	// stops invalidates end-of-unit timers armed before a hard stop.
	stops generation.Guard
}

type SchedulerOption func(*Scheduler)

// WithStartLead delays the first unit after an idle period by lead, giving
// slow output pipelines time to open.
func WithStartLead(lead time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lead = lead }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(output Output, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		output: output,
		now:    time.Now,
		active: map[uint64]*scheduledUnit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule places unit at max(now, end of previous unit) and hands it to the
// output. The returned unit carries the assigned start time.
func (s *Scheduler) Schedule(unit Unit) (Unit, error) {
	return s.ScheduleFor(s.StopToken(), unit)
}

// StopToken identifies the timeline between two hard stops.
func (s *Scheduler) StopToken() generation.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops.Current()
}

// ScheduleFor is [Scheduler.Schedule] for a unit prepared under token. Once a
// hard stop has happened since token was taken the unit never reaches the
// output and ErrStopped is returned.
func (s *Scheduler) ScheduleFor(token generation.Token, unit Unit) (Unit, error) {
	if s.output == nil {
		return unit, ErrNoOutput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stops.IsCurrent(token) {
		return unit, ErrStopped
	}

	now := s.now()
	start := s.nextStart
	if !start.After(now) {
		start = now.Add(s.lead)
	}
	unit.StartAt = start
	if unit.Duration == 0 && unit.SampleRate > 0 {
		unit.Duration = time.Duration(len(unit.Samples)) * time.Second / time.Duration(unit.SampleRate)
	}

	handle, err := s.output.Play(unit)
	if err != nil {
		return unit, fmt.Errorf("failed to play chunk %d of turn %d: %w", unit.Index, unit.TurnID, err)
	}

	s.nextStart = unit.EndAt()
	s.seq++
	id := s.seq
	scheduled := &scheduledUnit{unit: unit, handle: handle}
	scheduled.timer = time.AfterFunc(unit.EndAt().Sub(now), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stops.IsCurrent(token) {
			delete(s.active, id)
		}
	})
	s.active[id] = scheduled

	return unit, nil
}

// IsPlaying reports whether any scheduled unit has not finished yet.
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active) > 0 && s.nextStart.After(s.now())
}

// DrainedAt returns when the last scheduled unit ends. It is the zero time if
// nothing was scheduled since the last hard stop.
func (s *Scheduler) DrainedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextStart
}

// HardStop stops every scheduled unit that has not finished and resets the
// timeline. It returns the number of units stopped.
func (s *Scheduler) HardStop() int {
	s.mu.Lock()
	active := s.active
	s.active = map[uint64]*scheduledUnit{}
	s.nextStart = time.Time{}
	s.stops.Advance()
	s.mu.Unlock()

	for _, scheduled := range active {
		scheduled.timer.Stop()
		scheduled.handle.Stop()
	}
	return len(active)
}
