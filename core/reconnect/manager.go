// Package reconnect retries unplanned transport loss with exponential backoff
// and a bounded number of attempts.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/koscakluka/ema-avatar/core/generation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 8 * time.Second
	DefaultMaxAttempts = 3
)

var (
	ErrExhausted = errors.New("reconnect attempts exhausted")
	ErrStopped   = errors.New("reconnect stopped intentionally")
)

type State string

const (
	StateStable       State = "stable"
	StateDisconnected State = "disconnected"
	StateRetrying     State = "retrying"
	StateGiveUp       State = "give_up"
)

// Attempt is one scheduled reconnect.
type Attempt struct {
	Number int
	Delay  time.Duration
}

// ReconnectFunc re-establishes the connection. Returning an error counts as
// another disconnect.
type ReconnectFunc func(ctx context.Context, attempt Attempt) error

type Manager struct {
	mu sync.Mutex

	reconnect   ReconnectFunc
	backoff     *backoff.ExponentialBackOff
	maxAttempts int
	afterFunc   func(time.Duration, func()) (stop func() bool)

	onScheduled func(Attempt)
	onExhausted func(attempts int)
	onRestored  func(attempts int)

	state       State
	attempts    int
	intentional bool
	stopTimer   func() bool
	timers      generation.Guard
}

type ManagerOption func(*Manager)

// WithDelays sets the first delay and the cap.
func WithDelays(base, maxDelay time.Duration) ManagerOption {
	return func(m *Manager) {
		if base > 0 {
			m.backoff.InitialInterval = base
		}
		if maxDelay > 0 {
			m.backoff.MaxInterval = maxDelay
		}
	}
}

func WithMaxAttempts(attempts int) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
	}
}

// WithAfterFunc replaces the timer used to delay attempts.
func WithAfterFunc(afterFunc func(time.Duration, func()) (stop func() bool)) ManagerOption {
	return func(m *Manager) {
		if afterFunc != nil {
			m.afterFunc = afterFunc
		}
	}
}

func WithScheduledCallback(callback func(Attempt)) ManagerOption {
	return func(m *Manager) { m.onScheduled = callback }
}

func WithExhaustedCallback(callback func(attempts int)) ManagerOption {
	return func(m *Manager) { m.onExhausted = callback }
}

func WithRestoredCallback(callback func(attempts int)) ManagerOption {
	return func(m *Manager) { m.onRestored = callback }
}

func NewManager(reconnect ReconnectFunc, opts ...ManagerOption) *Manager {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = DefaultBaseDelay
	policy.MaxInterval = DefaultMaxDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	m := &Manager{
		reconnect:   reconnect,
		backoff:     policy,
		maxAttempts: DefaultMaxAttempts,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		onScheduled: func(Attempt) {},
		onExhausted: func(int) {},
		onRestored:  func(int) {},
		state:       StateStable,
	}
	for _, opt := range opts {
		opt(m)
	}
	policy.Reset()
	return m
}

// Arm clears the intentional-stop flag. Call it whenever a connection is
// deliberately (re)established.
func (m *Manager) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intentional = false
}

// Stop marks the disconnect as intentional and cancels any pending attempt.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intentional = true
	m.cancelLocked()
	m.attempts = 0
	m.backoff.Reset()
	m.state = StateStable
}

// Disconnected schedules the next attempt. It returns [ErrExhausted] once the
// attempt budget is spent and [ErrStopped] after an intentional stop.
func (m *Manager) Disconnected(ctx context.Context) (Attempt, error) {
	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		return Attempt{}, ErrStopped
	}

	m.cancelLocked()
	if m.attempts >= m.maxAttempts {
		attempts := m.attempts
		m.state = StateGiveUp
		m.mu.Unlock()

		logger.Warn("giving up reconnecting", "attempts", attempts)
		m.onExhausted(attempts)
		return Attempt{}, ErrExhausted
	}

	m.attempts++
	attempt := Attempt{Number: m.attempts, Delay: m.backoff.NextBackOff()}
	m.state = StateRetrying
	token := m.timers.Current()
	m.stopTimer = m.afterFunc(attempt.Delay, func() { m.fire(ctx, token, attempt) })
	m.mu.Unlock()

	logger.Info("reconnect scheduled", "attempt", attempt.Number, "delay", attempt.Delay)
	m.onScheduled(attempt)
	return attempt, nil
}

// Succeeded resets the attempt counter after a connection was restored.
func (m *Manager) Succeeded() {
	m.mu.Lock()
	attempts := m.attempts
	m.cancelLocked()
	m.attempts = 0
	m.backoff.Reset()
	m.state = StateStable
	m.mu.Unlock()

	if attempts > 0 {
		m.onRestored(attempts)
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) fire(ctx context.Context, token generation.Token, attempt Attempt) {
	m.mu.Lock()
	if m.intentional || !m.timers.IsCurrent(token) {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "reconnect")
	span.SetAttributes(
		attribute.Int("reconnect.attempt", attempt.Number),
		attribute.Int64("reconnect.delay_ms", attempt.Delay.Milliseconds()),
	)
	err := m.reconnect(ctx, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err == nil {
		m.Succeeded()
		return
	}

	logger.Warn("reconnect attempt failed", "attempt", attempt.Number, "error", err)
	if !m.timers.IsCurrent(token) {
		return
	}
	_, _ = m.Disconnected(ctx)
}

func (m *Manager) cancelLocked() {
	m.timers.Advance()
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}
