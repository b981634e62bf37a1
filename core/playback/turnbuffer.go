package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/generation"
)

const DefaultChunkTimeout = 30 * time.Second

var ErrChunkTimeout = errors.New("timed out waiting for next audio chunk")

// Chunk is a piece of avatar audio as delivered by the transport.
type Chunk struct {
	TurnID int
	Index  int
	PCM    []byte
}

// Outcome describes how draining a turn stopped.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	OutcomeStreamError
	OutcomePlaybackError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeStreamError:
		return "stream_error"
	case OutcomePlaybackError:
		return "playback_error"
	default:
		return "unknown"
	}
}

// Result is reported once per turn that was not cancelled.
type Result struct {
	TurnID  int
	Outcome Outcome
	Played  int
	Err     error
}

type drainState int

const (
	drainReady drainState = iota
	drainWaiting
	drainEnded
	drainFailed
	drainCancelled
)

// TurnBuffer reorders the chunks of the current turn and drains them into a
// [Scheduler] in strict index order.
//
// Exactly one turn pipeline exists at a time: beginning a new turn tears
// down the previous one.
type TurnBuffer struct {
	mu sync.Mutex

	scheduler    *Scheduler
	guard        *generation.Guard
	encoding     audio.EncodingInfo
	chunkTimeout time.Duration

	onResult    func(Result)
	onScheduled func(Unit)

	turnID        int
	token         generation.Token
	active        bool
	pending       map[int][]byte
	nextPlayIndex int
	played        int
	ended         bool
	streamErr     error

	signal chan struct{}
	stop   chan struct{}
}

type TurnBufferOption func(*TurnBuffer)

func WithChunkTimeout(timeout time.Duration) TurnBufferOption {
	return func(b *TurnBuffer) {
		if timeout > 0 {
			b.chunkTimeout = timeout
		}
	}
}

func WithEncoding(encoding audio.EncodingInfo) TurnBufferOption {
	return func(b *TurnBuffer) {
		if !encoding.IsZero() {
			b.encoding = encoding
		}
	}
}

// WithResultCallback registers the callback invoked when a turn stops
// draining for any reason other than cancellation.
func WithResultCallback(callback func(Result)) TurnBufferOption {
	return func(b *TurnBuffer) { b.onResult = callback }
}

// WithScheduledCallback registers a callback for every unit handed to the
// scheduler.
func WithScheduledCallback(callback func(Unit)) TurnBufferOption {
	return func(b *TurnBuffer) { b.onScheduled = callback }
}

// NewTurnBuffer creates a buffer draining into scheduler. Every callback is
// gated on guard so work from a cancelled generation is dropped.
func NewTurnBuffer(scheduler *Scheduler, guard *generation.Guard, opts ...TurnBufferOption) *TurnBuffer {
	if guard == nil {
		guard = &generation.Guard{}
	}

	b := &TurnBuffer{
		scheduler:    scheduler,
		guard:        guard,
		encoding:     audio.GetDefaultEncodingInfo(),
		chunkTimeout: DefaultChunkTimeout,
		onResult:     func(Result) {},
		onScheduled:  func(Unit) {},
		turnID:       -1,
		pending:      map[int][]byte{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Begin makes turnID the current turn and starts draining it under token.
// Any previous turn is torn down first.
func (b *TurnBuffer) Begin(turnID int, token generation.Token) {
	b.mu.Lock()
	previousActive := b.active
	b.closeStopLocked()

	b.turnID = turnID
	b.token = token
	b.active = true
	b.pending = map[int][]byte{}
	b.nextPlayIndex = 0
	b.played = 0
	b.ended = false
	b.streamErr = nil
	b.signal = make(chan struct{}, 1)
	b.stop = make(chan struct{})
	signal, stop := b.signal, b.stop
	b.mu.Unlock()

	if previousActive {
		b.scheduler.HardStop()
	}

	go b.drain(turnID, token, signal, stop)
}

// Push stores a chunk for the current turn. Chunks of any other turn, of a
// cancelled turn, or already played indexes are discarded and Push returns
// false.
func (b *TurnBuffer) Push(chunk Chunk) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || chunk.TurnID != b.turnID || chunk.Index < b.nextPlayIndex {
		return false
	}
	if _, exists := b.pending[chunk.Index]; exists {
		return false
	}

	b.pending[chunk.Index] = chunk.PCM
	b.signalLocked()
	return true
}

// End marks that no further chunks will arrive for turnID.
func (b *TurnBuffer) End(turnID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active && b.turnID == turnID {
		b.ended = true
		b.signalLocked()
	}
}

// Fail stops draining turnID because the stream reported an error.
func (b *TurnBuffer) Fail(turnID int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active && b.turnID == turnID {
		if err == nil {
			err = errors.New("audio stream failed")
		}
		b.streamErr = err
		b.signalLocked()
	}
}

// Cancel hard-stops the current turn: scheduled audio is silenced and pending
// chunks are dropped. The play index is kept until the next [TurnBuffer.Begin].
func (b *TurnBuffer) Cancel() {
	b.mu.Lock()
	b.active = false
	b.pending = map[int][]byte{}
	b.closeStopLocked()
	b.mu.Unlock()

	b.scheduler.HardStop()
}

func (b *TurnBuffer) CurrentTurn() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turnID
}

func (b *TurnBuffer) NextPlayIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextPlayIndex
}

// IsActive reports whether the current turn is still accepting chunks.
func (b *TurnBuffer) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *TurnBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *TurnBuffer) drain(turnID int, token generation.Token, signal <-chan struct{}, stop <-chan struct{}) {
	timeout := time.NewTimer(b.chunkTimeout)
	defer timeout.Stop()

	for {
		pcm, index, stopToken, state, streamErr := b.next(turnID, token)
		switch state {
		case drainCancelled:
			return

		case drainReady:
			err := b.schedule(turnID, index, stopToken, pcm)
			if errors.Is(err, ErrStopped) {
				continue
			}
			if err != nil {
				b.finish(turnID, token, OutcomePlaybackError, err)
				return
			}
			timeout.Reset(b.chunkTimeout)

		case drainFailed:
			b.finish(turnID, token, OutcomeStreamError, streamErr)
			return

		case drainEnded:
			if wait := time.Until(b.scheduler.DrainedAt()); wait > 0 {
				select {
				case <-stop:
					return
				case <-time.After(wait):
				}
			}
			b.finish(turnID, token, OutcomeCompleted, nil)
			return

		case drainWaiting:
			select {
			case <-stop:
				return
			case <-signal:
			case <-timeout.C:
				b.finish(turnID, token, OutcomeTimedOut, ErrChunkTimeout)
				return
			}
		}
	}
}

// next takes the chunk due for turnID. A ready chunk comes with the
// scheduler's stop token taken while the turn was still current, so a
// [TurnBuffer.Cancel] racing the decode keeps it off the output.
func (b *TurnBuffer) next(turnID int, token generation.Token) ([]byte, int, generation.Token, drainState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || b.turnID != turnID || !b.guard.IsCurrent(token) {
		return nil, 0, 0, drainCancelled, nil
	}

	if pcm, ok := b.pending[b.nextPlayIndex]; ok {
		index := b.nextPlayIndex
		delete(b.pending, index)
		b.nextPlayIndex++
		return pcm, index, b.scheduler.StopToken(), drainReady, nil
	}

	if b.streamErr != nil {
		return nil, 0, 0, drainFailed, b.streamErr
	}
	if b.ended && len(b.pending) == 0 {
		return nil, 0, 0, drainEnded, nil
	}
	return nil, 0, 0, drainWaiting, nil
}

func (b *TurnBuffer) schedule(turnID, index int, stopToken generation.Token, pcm []byte) error {
	samples, err := audio.DecodeLinear16(pcm)
	if err != nil {
		return fmt.Errorf("failed to decode chunk %d of turn %d: %w", index, turnID, err)
	}

	unit, err := b.scheduler.ScheduleFor(stopToken, Unit{
		TurnID:     turnID,
		Index:      index,
		Samples:    samples,
		SampleRate: b.encoding.SampleRate,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.played++
	b.mu.Unlock()

	b.onScheduled(unit)
	return nil
}

func (b *TurnBuffer) finish(turnID int, token generation.Token, outcome Outcome, err error) {
	b.mu.Lock()
	if !b.active || b.turnID != turnID {
		b.mu.Unlock()
		return
	}
	b.active = false
	b.pending = map[int][]byte{}
	played := b.played
	b.mu.Unlock()

	if outcome != OutcomeCompleted {
		b.scheduler.HardStop()
	}

	b.guard.Run(token, func() {
		b.onResult(Result{TurnID: turnID, Outcome: outcome, Played: played, Err: err})
	})
}

func (b *TurnBuffer) signalLocked() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *TurnBuffer) closeStopLocked() {
	if b.stop == nil {
		return
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}
