package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/interruptions"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SendMessage opens a new turn for a typed message, optionally with an image.
// A turn that is still playing is cancelled first. It returns the id of the
// new turn.
func (e *Engine) SendMessage(ctx context.Context, text string, image *transport.Image) (turnID int, err error) {
	_, span := tracer.Start(ctx, "send message")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.mu.Lock()
	if e.state != StateActive || e.conn == nil {
		e.mu.Unlock()
		return -1, ErrTransportUnavailable
	}

	e.guard.Advance()
	e.cancelTurnLocked("user_message", true)
	e.stopGreetingLocked()
	e.stopListeningLocked()
	e.detector.Reset()

	turnID = e.session.TurnCounter
	e.beginTurnLocked(turnID, "")
	message := transport.TextMessage{TurnID: turnID, Text: text, Image: image}
	e.lastMessage = &message
	e.expiryRetried = false
	conn := e.conn
	e.mu.Unlock()

	span.SetAttributes(attribute.Int("turn.id", turnID))
	if err := conn.SendText(message); err != nil {
		return turnID, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	return turnID, nil
}

// beginTurnLocked makes turnID the current turn and opens its audio pipeline.
func (e *Engine) beginTurnLocked(turnID int, text string) {
	e.currentTurn = turnID
	e.turnOpen = true
	e.turnText = text
	e.speaking = false
	e.lastChunkAt = time.Time{}
	if e.session != nil && turnID >= e.session.TurnCounter {
		e.session.TurnCounter = turnID + 1
	}

	e.turns.Begin(turnID, e.guard.Current())
	e.emit(events.NewTurnStarted(turnID, text, e.stamp()))
}

// cancelTurnLocked hard-stops the current turn if it is still open. The
// caller advances the session token.
func (e *Engine) cancelTurnLocked(reason string, notifyRemote bool) bool {
	if !e.turnOpen {
		return false
	}

	turnID := e.currentTurn
	e.turnOpen = false
	e.cancelledTurn = turnID
	e.speaking = false
	e.turns.Cancel()
	e.detector.AvatarFinishedSpeaking()

	if notifyRemote && e.conn != nil {
		if err := e.conn.SendControl(transport.Control{Type: transport.ControlCancelTurn, TurnID: turnID}); err != nil {
			logger.Warn("failed to cancel turn remotely", "turn_id", turnID, "error", err)
		}
	}

	e.metrics.TurnFinished("cancelled")
	e.emit(events.NewTurnCancelled(turnID, reason, e.stamp()))
	logger.Debug("turn cancelled", "turn_id", turnID, "reason", reason)
	return true
}

func (e *Engine) onTurnResult(result playback.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if result.TurnID != e.currentTurn || !e.turnOpen {
		return
	}
	e.turnOpen = false
	e.speaking = false
	e.stopGreetingLocked()
	e.detector.AvatarFinishedSpeaking()
	e.metrics.TurnFinished(result.Outcome.String())

	switch result.Outcome {
	case playback.OutcomePlaybackError:
		err := fmt.Errorf("%w: %w", ErrPlayback, result.Err)
		logger.Warn("turn playback failed", "turn_id", result.TurnID, "error", err)
		e.emit(events.NewPlaybackFailed(result.TurnID, err, e.stamp()))
	case playback.OutcomeTimedOut, playback.OutcomeStreamError:
		logger.Warn("turn stopped early", "turn_id", result.TurnID, "outcome", result.Outcome, "error", result.Err)
	}
	e.emit(events.NewTurnEnded(result.TurnID, result.Outcome.String(), result.Played, e.stamp()))

	if e.state == StateActive {
		e.scheduleListeningLocked()
	}
}

func (e *Engine) onChunkScheduled(unit playback.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if unit.TurnID != e.currentTurn || !e.turnOpen {
		return
	}
	e.metrics.ChunkPlayed()
	if !e.speaking {
		e.speaking = true
		e.detector.AvatarStartedSpeaking(e.turnText)
		e.emit(events.NewPlaybackStarted(unit.TurnID, e.stamp()))
	}
	e.emit(events.NewPlaybackChunkScheduled(unit.TurnID, unit.Index, unit.StartAt, unit.Duration, e.stamp()))
}

// onBargeIn stops the avatar because the user started talking over it.
func (e *Engine) onBargeIn(bargeIn interruptions.BargeIn) {
	_, span := tracer.Start(e.backgroundContext(), "perform barge-in")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive || !e.turnOpen {
		return
	}
	turnID := e.currentTurn
	span.SetAttributes(
		attribute.Int("turn.id", turnID),
		attribute.String("barge_in.reason", string(bargeIn.Reason)),
	)

	e.guard.Advance()
	e.cancelTurnLocked("barge_in", true)
	e.stopGreetingLocked()
	e.metrics.BargeIn(string(bargeIn.Reason))
	e.emit(events.NewBargeIn(turnID, string(bargeIn.Reason), bargeIn.Transcript, e.stamp()))
	logger.Info("user barged in", "turn_id", turnID, "reason", bargeIn.Reason)

	e.scheduleListeningLocked()
}

func (e *Engine) onEcho(transcript string) {
	e.metrics.EchoSuppressed()
	e.emit(events.NewEchoSuppressed(transcript, e.stamp()))
}

// scheduleListeningLocked reports the microphone as listening again after the
// platform resume delay. Only the latest schedule can fire.
func (e *Engine) scheduleListeningLocked() {
	e.stopListeningLocked()

	token := e.guard.Current()
	timer := time.AfterFunc(e.config.Timing().MicResumeDelay, func() {
		e.guard.Run(token, e.resumeListening)
	})
	e.stopListening = timer.Stop
}

func (e *Engine) stopListeningLocked() {
	if e.stopListening != nil {
		e.stopListening()
		e.stopListening = nil
	}
}

func (e *Engine) resumeListening() {
	e.mu.Lock()
	if e.state != StateActive || e.mic == nil || e.conn == nil {
		e.mu.Unlock()
		return
	}
	e.stopListening = nil
	channel, conn, ctx := e.mic, e.conn, e.sessionCtx
	e.mu.Unlock()

	e.detector.Reset()
	if err := e.startCapture(ctx, channel, conn); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("failed to resume listening", "error", err)
	}
}
