package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/reconnect"
	"github.com/koscakluka/ema-avatar/core/transport"
)

// onDisconnected routes an unplanned transport loss to the reconnect
// manager. Disconnects of transports the engine already let go are ignored.
func (e *Engine) onDisconnected(ctx context.Context, conn transport.Transport, event transport.Disconnected) {
	e.mu.Lock()
	if !e.isCurrentLocked(conn) || event.Intentional {
		e.mu.Unlock()
		return
	}

	switch e.state {
	case StateConnecting:
		e.conn = nil
		err := event.Err
		if err == nil {
			err = transport.ErrClosed
		}
		select {
		case e.startResult <- err:
		default:
		}
		e.mu.Unlock()
		return

	case StateActive:
	default:
		e.mu.Unlock()
		return
	}

	logger.Warn("transport lost", "error", event.Err)
	e.conn = nil
	e.guard.Advance()
	e.cancelTurnLocked("disconnected", false)
	e.stopGreetingLocked()
	e.stopListeningLocked()
	e.detector.Reset()
	channel := e.mic
	e.transitionLocked(StateReconnecting, "transport_lost")
	e.emit(events.NewMicStatusChanged(events.MicStatusOff, e.stamp()))
	e.mu.Unlock()

	if channel != nil {
		if err := channel.Stop(); err != nil {
			logger.Warn("failed to stop microphone after transport loss", "error", err)
		}
	}

	if _, err := e.reconnect.Disconnected(ctx); err != nil && !errors.Is(err, reconnect.ErrExhausted) {
		logger.Debug("reconnect not scheduled", "error", err)
	}
}

// reconnectTransport is the reconnect manager's attempt. Returning an error
// lets the manager schedule the next attempt.
func (e *Engine) reconnectTransport(ctx context.Context, attempt reconnect.Attempt) error {
	e.mu.Lock()
	if e.state != StateReconnecting || e.session == nil {
		e.mu.Unlock()
		return nil
	}
	token := e.guard.Current()
	e.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, e.config.StartTimeout)
	conn, err := e.dialer.Dial(dialCtx, e.params(true))
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	e.mu.Lock()
	if e.state != StateReconnecting || !e.guard.IsCurrent(token) {
		e.mu.Unlock()
		closeQuietly(conn)
		return nil
	}
	e.conn = conn
	channel, sessionCtx := e.mic, e.sessionCtx
	e.transitionLocked(StateActive, "reconnected")
	e.mu.Unlock()

	logger.Info("transport restored", "attempt", attempt.Number)
	go e.consume(sessionCtx, conn)
	if err := e.startCapture(sessionCtx, channel, conn); err != nil {
		logger.Warn("failed to restart microphone after reconnect", "error", err)
	}
	return nil
}

func (e *Engine) onReconnectScheduled(attempt reconnect.Attempt) {
	e.metrics.ReconnectScheduled()
	e.emit(events.NewReconnectScheduled(attempt.Number, attempt.Delay, e.stamp()))
}

func (e *Engine) onReconnectRestored(attempts int) {
	e.emit(events.NewReconnectRestored(attempts, e.stamp()))
}

// onReconnectExhausted gives up on the session. The caller is expected to
// offer a manual retry, which is a fresh [Engine.Start].
func (e *Engine) onReconnectExhausted(attempts int) {
	e.mu.Lock()
	if e.state != StateReconnecting {
		e.mu.Unlock()
		return
	}
	e.metrics.ReconnectGaveUp()
	e.emit(events.NewReconnectExhausted(attempts, e.stamp()))
	e.failSessionLocked(e.baseContext, fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts), "reconnect_exhausted")
}
