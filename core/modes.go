package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/generation"
	"github.com/koscakluka/ema-avatar/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SwitchTransportMode moves the session between audio only and audio with
// video. The conversation, including its turn counter, carries over. If the
// new renderer cannot start the previous mode is restored and the session
// stays active.
func (e *Engine) SwitchTransportMode(ctx context.Context, toVideo bool) (err error) {
	ctx, span := tracer.Start(ctx, "switch transport mode")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	to := transport.ModeAudio
	if toVideo {
		to = transport.ModeVideo
	}

	e.mu.Lock()
	if e.state != StateActive || e.session == nil {
		e.mu.Unlock()
		return ErrNotActive
	}
	from := e.session.Mode
	if from == to {
		e.mu.Unlock()
		return nil
	}
	span.SetAttributes(attribute.String("mode.from", string(from)), attribute.String("mode.to", string(to)))

	token := e.guard.Advance()
	e.cancelTurnLocked("mode_switch", true)
	e.stopGreetingLocked()
	e.stopListeningLocked()
	e.detector.Reset()
	channel := e.mic
	e.emit(events.NewMicStatusChanged(events.MicStatusOff, e.stamp()))
	e.mu.Unlock()

	if channel != nil {
		if err := channel.Stop(); err != nil {
			logger.Warn("failed to pause microphone for mode switch", "error", err)
		}
	}

	previous, next := e.renderer(from), e.renderer(to)
	if err := previous.Stop(ctx); err != nil {
		logger.Warn("failed to stop renderer", "mode", from, "error", err)
	}

	if startErr := next.Start(ctx, to); startErr != nil {
		switchErr := fmt.Errorf("%w: %w", ErrModeSwitchFailed, startErr)
		if rollbackErr := previous.Start(ctx, from); rollbackErr != nil {
			switchErr = errors.Join(switchErr, fmt.Errorf("failed to restore %s renderer: %w", from, rollbackErr))
		}
		e.metrics.ModeSwitched("failed")

		e.mu.Lock()
		if e.guard.IsCurrent(token) {
			e.emit(events.NewModeSwitchFailed(string(to), string(from), switchErr, e.stamp()))
		}
		e.mu.Unlock()

		e.resumeAfterSwitch(token)
		return switchErr
	}

	e.mu.Lock()
	if e.state != StateActive || e.session == nil || !e.guard.IsCurrent(token) {
		e.mu.Unlock()
		if stopErr := next.Stop(ctx); stopErr != nil {
			logger.Warn("failed to stop renderer of abandoned switch", "mode", to, "error", stopErr)
		}
		return ErrNotActive
	}
	e.session.Mode = to
	if e.conn != nil {
		if err := e.conn.SendControl(transport.Control{Type: transport.ControlMode, Mode: to}); err != nil {
			logger.Warn("failed to announce mode switch", "mode", to, "error", err)
		}
	}
	e.emit(events.NewModeSwitched(string(from), string(to), e.stamp()))
	e.mu.Unlock()

	e.metrics.ModeSwitched("ok")
	logger.Info("transport mode switched", "from", from, "to", to)
	e.resumeAfterSwitch(token)
	return nil
}

func (e *Engine) resumeAfterSwitch(token generation.Token) {
	e.mu.Lock()
	if e.state != StateActive || !e.guard.IsCurrent(token) || e.conn == nil {
		e.mu.Unlock()
		return
	}
	channel, conn, ctx := e.mic, e.conn, e.sessionCtx
	e.mu.Unlock()

	if err := e.startCapture(ctx, channel, conn); err != nil {
		logger.Warn("failed to resume microphone after mode switch", "error", err)
	}
}
