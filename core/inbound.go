package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/transport"
)

// consume handles every event of conn until the transport closes its event
// stream.
func (e *Engine) consume(ctx context.Context, conn transport.Transport) {
	for event := range conn.Events() {
		e.handleTransportEvent(ctx, conn, event)
	}
}

func (e *Engine) handleTransportEvent(ctx context.Context, conn transport.Transport, event transport.Event) {
	switch event := event.(type) {
	case transport.SessionStarted:
		e.onRemoteSessionStarted(conn, event)
	case transport.TranscriptPartial:
		e.onTranscript(ctx, conn, event.Text, false)
	case transport.TranscriptFinal:
		e.onTranscript(ctx, conn, event.Text, true)
	case transport.TurnStart:
		e.onRemoteTurnStart(conn, event)
	case transport.TurnEnd:
		e.onRemoteTurnEnd(conn, event)
	case transport.AudioChunk:
		e.onAudioChunk(conn, event)
	case transport.StopAudio:
		e.onStopAudio(conn, event)
	case transport.Error:
		e.onRemoteError(ctx, conn, event)
	case transport.Disconnected:
		e.onDisconnected(ctx, conn, event)
	default:
		logger.Debug("ignoring unknown transport event", "event", fmt.Sprintf("%T", event))
	}
}

// isCurrentLocked reports whether events from conn may still change state.
func (e *Engine) isCurrentLocked(conn transport.Transport) bool {
	return conn != nil && e.conn == conn
}

func (e *Engine) onRemoteSessionStarted(conn transport.Transport, event transport.SessionStarted) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(conn) {
		return
	}
	if e.state == StateConnecting {
		select {
		case e.startResult <- nil:
		default:
		}
	}
	logger.Debug("remote confirmed session", "session_id", event.SessionID, "state", e.state)
}

func (e *Engine) onTranscript(ctx context.Context, conn transport.Transport, text string, isFinal bool) {
	e.mu.Lock()
	if !e.isCurrentLocked(conn) || e.state != StateActive {
		e.mu.Unlock()
		return
	}
	if isFinal {
		e.emit(events.NewUserTranscriptFinal(text, e.stamp()))
	} else {
		e.emit(events.NewUserTranscriptPartial(text, e.stamp()))
	}
	e.mu.Unlock()

	e.detector.Observe(ctx, text, isFinal)
}

func (e *Engine) onRemoteTurnStart(conn transport.Transport, event transport.TurnStart) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(conn) || e.state != StateActive {
		return
	}

	switch {
	case event.TurnID == e.currentTurn && e.turnOpen:
		if event.Text == "" {
			return
		}
		e.turnText = event.Text
		if e.speaking {
			e.detector.SetAvatarUtterance(event.Text)
		}
	case event.TurnID > e.currentTurn && event.TurnID > e.cancelledTurn:
		e.stopListeningLocked()
		e.beginTurnLocked(event.TurnID, event.Text)
	default:
		logger.Debug("ignoring stale turn start", "turn_id", event.TurnID, "current_turn", e.currentTurn)
	}
}

func (e *Engine) onRemoteTurnEnd(conn transport.Transport, event transport.TurnEnd) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(conn) || event.TurnID != e.currentTurn || !e.turnOpen {
		return
	}
	e.turns.End(event.TurnID)
}

func (e *Engine) onAudioChunk(conn transport.Transport, event transport.AudioChunk) {
	e.mu.Lock()
	if !e.isCurrentLocked(conn) || e.state != StateActive {
		e.mu.Unlock()
		return
	}

	switch {
	case event.TurnID <= e.cancelledTurn || event.TurnID < e.currentTurn:
		e.mu.Unlock()
		e.metrics.ChunkDropped("stale")
		logger.Debug("dropping chunk of stale turn", "turn_id", event.TurnID, "index", event.Index)
		return
	case event.TurnID > e.currentTurn:
		e.stopListeningLocked()
		e.beginTurnLocked(event.TurnID, "")
	}

	now := time.Now()
	if !e.lastChunkAt.IsZero() {
		e.metrics.ChunkArrived(now.Sub(e.lastChunkAt))
	}
	e.lastChunkAt = now
	e.mu.Unlock()

	if !e.turns.Push(playback.Chunk{TurnID: event.TurnID, Index: event.Index, PCM: event.PCM}) {
		e.metrics.ChunkDropped("rejected")
	}
}

func (e *Engine) onStopAudio(conn transport.Transport, event transport.StopAudio) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(conn) || event.TurnID != e.currentTurn || !e.turnOpen {
		return
	}
	e.guard.Advance()
	e.cancelTurnLocked("remote_stop", false)
	if e.state == StateActive {
		e.scheduleListeningLocked()
	}
}

func (e *Engine) onRemoteError(ctx context.Context, conn transport.Transport, event transport.Error) {
	if event.Code == transport.ErrorCodeSessionExpired {
		e.onSessionExpired(ctx, conn)
		return
	}

	var err error
	if event.Code == transport.ErrorCodeRateLimited {
		err = fmt.Errorf("%w: %s", ErrRateLimited, event.Message)
	} else {
		err = fmt.Errorf("remote error: %w", event)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(conn) {
		return
	}

	turnID := e.currentTurn
	if event.TurnID != nil {
		turnID = *event.TurnID
	}
	failedTurn := e.turnOpen && turnID == e.currentTurn
	if failedTurn {
		e.turns.Fail(turnID, err)
	}

	logger.Warn("remote reported an error", "code", event.Code, "message", event.Message, "turn_id", turnID)
	if !failedTurn || errors.Is(err, ErrRateLimited) {
		e.emit(events.NewSessionError(err, IsRetryable(err), e.stamp()))
	}
}

// onSessionExpired reconnects once and resends the last message. A second
// expiry before the next message ends the session.
func (e *Engine) onSessionExpired(ctx context.Context, conn transport.Transport) {
	e.mu.Lock()
	if !e.isCurrentLocked(conn) || e.state != StateActive {
		e.mu.Unlock()
		return
	}
	if e.expiryRetried {
		e.failSessionLocked(ctx, ErrRemoteSessionExpired, "remote_session_expired")
		return
	}
	e.expiryRetried = true
	e.conn = nil
	token := e.guard.Current()
	e.mu.Unlock()

	closeQuietly(conn)
	logger.Info("remote session expired, reconnecting once")

	dialCtx, cancel := context.WithTimeout(ctx, e.config.StartTimeout)
	fresh, err := e.dialer.Dial(dialCtx, e.params(true))
	cancel()

	e.mu.Lock()
	if e.state != StateActive || !e.guard.IsCurrent(token) {
		e.mu.Unlock()
		if err == nil {
			closeQuietly(fresh)
		}
		return
	}
	if err != nil {
		e.failSessionLocked(ctx, fmt.Errorf("%w: %w", ErrRemoteSessionExpired, err), "remote_session_expired")
		return
	}

	e.conn = fresh
	channel, sessionCtx := e.mic, e.sessionCtx
	var resend *transport.TextMessage
	if e.lastMessage != nil && e.lastMessage.TurnID == e.currentTurn && e.turnOpen {
		message := *e.lastMessage
		resend = &message
	}
	e.mu.Unlock()

	go e.consume(sessionCtx, fresh)
	if err := e.startCapture(sessionCtx, channel, fresh); err != nil {
		logger.Warn("failed to move microphone to new transport", "error", err)
	}
	if resend != nil {
		if err := fresh.SendText(*resend); err != nil {
			logger.Warn("failed to resend message after session expiry", "turn_id", resend.TurnID, "error", err)
		}
	}
}

// failSessionLocked tears the session down to idle and surfaces err. It
// releases the lock.
func (e *Engine) failSessionLocked(ctx context.Context, err error, reason string) {
	resources := e.detachLocked(StateIdle, reason)
	e.emit(events.NewSessionError(err, IsRetryable(err), e.stamp()))
	e.mu.Unlock()

	recordError(ctx, err)
	if releaseErr := e.release(context.WithoutCancel(ctx), resources); releaseErr != nil {
		logger.Warn("failed to release session resources", "error", releaseErr)
	}
	e.metrics.SessionEnded()
}
