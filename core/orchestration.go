package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/generation"
	"github.com/koscakluka/ema-avatar/core/interruptions"
	"github.com/koscakluka/ema-avatar/core/metrics"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/reconnect"
	"github.com/koscakluka/ema-avatar/core/remote"
	"github.com/koscakluka/ema-avatar/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// StartOptions describe the session to open.
type StartOptions struct {
	Mode     transport.Mode
	UserID   string
	AvatarID string
	// RoomName is used to derive the avatar id when AvatarID is empty.
	RoomName string
}

// Engine runs at most one conversational session at a time: it owns the
// session state machine, the microphone, the transport and the turn pipeline.
//
// All mutable session state lives behind mu and is only changed through the
// engine's methods. Asynchronous work captures the session token and drops its
// result once the token has moved on.
type Engine struct {
	mu sync.Mutex

	config      Config
	dialer      transport.Dialer
	acquire     mic.Acquirer
	output      playback.Output
	remote      Remote
	renderers   map[transport.Mode]Renderer
	observer    func(events.Event)
	metrics     *metrics.Metrics
	baseContext context.Context

	emitter   *eventEmitter
	guard     generation.Guard
	scheduler *playback.Scheduler
	turns     *playback.TurnBuffer
	detector  *interruptions.Detector
	reconnect *reconnect.Manager

	state         State
	starting      bool
	closed        bool
	session       *Session
	registered    bool
	conn          transport.Transport
	mic           *mic.Channel
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	startResult   chan error

	currentTurn   int
	cancelledTurn int
	turnOpen      bool
	turnText      string
	speaking      bool
	lastChunkAt   time.Time

	lastMessage   *transport.TextMessage
	expiryRetried bool
	autoPaused    bool
	stopListening func() bool
	stopGreeting  context.CancelFunc

	closeOnce sync.Once
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		config:        DefaultConfig(),
		renderers:     map[transport.Mode]Renderer{},
		baseContext:   context.Background(),
		state:         StateIdle,
		currentTurn:   -1,
		cancelledTurn: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config = e.config.clone()

	e.emitter = newEventEmitter(e.observer)
	e.emitter.start()

	timing := e.config.Timing()
	e.scheduler = playback.NewScheduler(e.output, playback.WithStartLead(timing.PlaybackStartLead))
	e.turns = playback.NewTurnBuffer(e.scheduler, &e.guard,
		playback.WithChunkTimeout(e.config.ChunkTimeout),
		playback.WithEncoding(e.config.OutputEncoding),
		playback.WithResultCallback(e.onTurnResult),
		playback.WithScheduledCallback(e.onChunkScheduled),
	)
	e.detector = interruptions.NewDetector(
		interruptions.WithDebounce(e.config.BargeInDebounce),
		interruptions.WithEchoWindow(e.config.EchoWindow),
		interruptions.WithEchoMaxLength(e.config.EchoMaxLength),
		interruptions.WithMinPartialLength(e.config.MinPartialLength),
		interruptions.WithAllowList(e.config.InterruptionAllowList...),
		interruptions.WithPlaybackState(e.scheduler.IsPlaying),
		interruptions.WithBargeInCallback(e.onBargeIn),
		interruptions.WithEchoCallback(e.onEcho),
	)
	e.reconnect = reconnect.NewManager(e.reconnectTransport,
		reconnect.WithDelays(e.config.ReconnectBaseDelay, e.config.ReconnectMaxDelay),
		reconnect.WithMaxAttempts(e.config.ReconnectMaxAttempts),
		reconnect.WithScheduledCallback(e.onReconnectScheduled),
		reconnect.WithExhaustedCallback(e.onReconnectExhausted),
		reconnect.WithRestoredCallback(e.onReconnectRestored),
	)
	return e
}

// Start opens a session and returns once the transport confirmed it and the
// greeting was dispatched. It never blocks longer than the configured start
// timeout.
func (e *Engine) Start(ctx context.Context, options StartOptions) (err error) {
	ctx, span := tracer.Start(ctx, "start session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := e.config.Validate(); err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.starting || e.state.hasSession():
		e.mu.Unlock()
		return ErrAlreadyActive
	case e.dialer == nil:
		e.mu.Unlock()
		return fmt.Errorf("%w: no dialer configured", ErrTransportUnavailable)
	}
	e.starting = true
	startToken := e.guard.Current()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}()

	startedAt := time.Now()
	mode := options.Mode
	if mode == "" {
		mode = transport.ModeAudio
	}
	session := &Session{
		ID:          uuid.NewString(),
		UserID:      options.UserID,
		AvatarID:    resolveAvatarID(options, e.config.DefaultAvatarID),
		Mode:        mode,
		TurnCounter: 1,
	}
	span.SetAttributes(
		attribute.String("session.avatar_id", session.AvatarID),
		attribute.String("session.mode", string(mode)),
	)

	channel := mic.NewChannel(e.acquire,
		mic.WithEncoding(e.config.InputEncoding),
		mic.WithFrameDuration(e.config.MicFrameDuration),
		mic.WithNoiseGate(e.config.NoiseGateThreshold, e.config.NoiseGateHangoverFrames),
	)
	if err := channel.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	e.mu.Lock()
	if !e.guard.IsCurrent(startToken) {
		e.mu.Unlock()
		e.releaseMic(channel)
		return fmt.Errorf("%w: start aborted", ErrNotActive)
	}
	token := e.guard.Advance()
	sessionCtx, cancelSession := context.WithCancel(context.WithoutCancel(ctx))
	e.session = session
	e.mic = channel
	e.sessionCtx = sessionCtx
	e.cancelSession = cancelSession
	e.startResult = make(chan error, 1)
	e.currentTurn = -1
	e.cancelledTurn = -1
	e.turnOpen = false
	e.speaking = false
	e.lastMessage = nil
	e.expiryRetried = false
	e.autoPaused = false
	startResult := e.startResult
	e.transitionLocked(StateConnecting, "start")
	e.mu.Unlock()

	startCtx, cancelStart := context.WithTimeout(ctx, e.config.StartTimeout)
	defer cancelStart()

	renderer := e.renderer(mode)
	if _, err := awaitStart(startCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, renderer.Start(ctx, mode)
	}, nil); err != nil {
		if err := e.startInterrupted(ctx, startCtx, token); err != nil {
			return err
		}
		e.abortStart(ctx, token, "renderer_failed")
		return fmt.Errorf("failed to start %s renderer: %w", mode, err)
	}

	if e.remote != nil {
		request := remote.RegisterSessionRequest{
			UserID:   session.UserID,
			AvatarID: session.AvatarID,
			Mode:     string(mode),
		}
		registered, err := awaitStart(startCtx, func(ctx context.Context) (remote.Session, error) {
			return e.remote.RegisterSession(ctx, request)
		}, e.endOrphanedRegistration)
		if err != nil {
			if err := e.startInterrupted(ctx, startCtx, token); err != nil {
				return err
			}
			e.abortStart(ctx, token, "registration_failed")
			return classifyRemoteError(err)
		}

		e.mu.Lock()
		if registered.ID != "" && e.guard.IsCurrent(token) {
			session.ID = registered.ID
			e.registered = true
		}
		e.mu.Unlock()
	}

	params := e.params(false)
	conn, err := awaitStart(startCtx, func(ctx context.Context) (transport.Transport, error) {
		return e.dialer.Dial(ctx, params)
	}, closeQuietly)
	if err != nil {
		if err := e.startInterrupted(ctx, startCtx, token); err != nil {
			return err
		}
		e.abortStart(ctx, token, "connect_failed")
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	e.mu.Lock()
	if !e.guard.IsCurrent(token) || e.state != StateConnecting {
		e.mu.Unlock()
		closeQuietly(conn)
		return fmt.Errorf("%w: start aborted", ErrNotActive)
	}
	e.conn = conn
	e.mu.Unlock()
	go e.consume(sessionCtx, conn)

	select {
	case err := <-startResult:
		if err != nil {
			e.abortStart(ctx, token, "connect_failed")
			return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
	case <-startCtx.Done():
		return e.startInterrupted(ctx, startCtx, token)
	case <-sessionCtx.Done():
		return fmt.Errorf("%w: start aborted", ErrNotActive)
	}

	greeting, greet := e.greetingText(startCtx, session.AvatarID)

	if err := channel.Start(sessionCtx, e.micSink(conn)); err != nil {
		e.abortStart(ctx, token, "mic_failed")
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}

	e.mu.Lock()
	if !e.guard.IsCurrent(token) || e.state != StateConnecting {
		e.mu.Unlock()
		return fmt.Errorf("%w: start aborted", ErrNotActive)
	}
	if e.conn == nil {
		e.mu.Unlock()
		e.abortStart(ctx, token, "connect_failed")
		return fmt.Errorf("%w: connection lost while starting", ErrTransportUnavailable)
	}
	e.reconnect.Arm()
	e.transitionLocked(StateActive, "session_started")
	e.emit(events.NewSessionStarted(session.ID, session.AvatarID, string(mode), e.stamp()))
	e.emit(events.NewMicStatusChanged(events.MicStatusListening, e.stamp()))
	if greet {
		e.dispatchGreetingLocked(greeting)
	}
	e.mu.Unlock()

	e.metrics.SessionStarted(time.Since(startedAt))
	logger.Info("session started", "session_id", session.ID, "avatar_id", session.AvatarID, "mode", mode)
	return nil
}

// startInterrupted tears the start down and returns the error to report when
// the caller gave up or the start timeout elapsed. It returns nil otherwise.
func (e *Engine) startInterrupted(ctx, startCtx context.Context, token generation.Token) error {
	switch {
	case ctx.Err() != nil:
		e.abortStart(ctx, token, "start_cancelled")
		return ctx.Err()
	case errors.Is(startCtx.Err(), context.DeadlineExceeded):
		return e.startTimedOut(ctx, token)
	}
	return nil
}

// awaitStart runs fn on its own goroutine so a collaborator that ignores ctx
// cannot hold Start past the start timeout. A result that arrives after ctx
// ended is handed to orphaned, if set, so it can be cleaned up.
func awaitStart[T any](ctx context.Context, fn func(ctx context.Context) (T, error), orphaned func(T)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			if orphaned != nil {
				orphaned(r.value)
			}
			var zero T
			return zero, ctx.Err()
		}
		return r.value, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && orphaned != nil {
				orphaned(r.value)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

func (e *Engine) endOrphanedRegistration(registered remote.Session) {
	if registered.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(e.baseContext, e.config.StartTimeout)
	defer cancel()
	if err := e.remote.EndSession(ctx, registered.ID); err != nil {
		logger.Warn("failed to end remote session registered after start gave up", "session_id", registered.ID, "error", err)
	}
}

func (e *Engine) startTimedOut(ctx context.Context, token generation.Token) error {
	e.mu.Lock()
	if e.guard.IsCurrent(token) {
		e.emit(events.NewStartTimedOut(e.stamp()))
	}
	e.mu.Unlock()

	logger.Warn("session start timed out", "timeout", e.config.StartTimeout)
	e.abortStart(ctx, token, "start_timeout")
	return ErrStartTimeout
}

// abortStart tears a half started session back down to idle.
func (e *Engine) abortStart(ctx context.Context, token generation.Token, reason string) {
	e.mu.Lock()
	if !e.guard.IsCurrent(token) || e.state != StateConnecting {
		e.mu.Unlock()
		return
	}
	resources := e.detachLocked(StateIdle, reason)
	e.mu.Unlock()

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.StartTimeout)
	defer cancel()
	if err := e.release(releaseCtx, resources); err != nil {
		logger.Warn("failed to clean up aborted session start", "reason", reason, "error", err)
	}
}

// End tears down the session and releases every device. It is safe to call
// repeatedly and from any state.
func (e *Engine) End(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "end session")
	defer span.End()

	e.mu.Lock()
	if e.state == StateEnded {
		e.mu.Unlock()
		return
	}
	hadSession := e.state.hasSession()
	resources := e.detachLocked(StateEnded, "end")
	e.mu.Unlock()

	if err := e.release(ctx, resources); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("session teardown incomplete", "error", err)
	}
	if hadSession {
		e.metrics.SessionEnded()
	}
}

// Close ends the session and stops event delivery. Events emitted before
// Close returns are still delivered.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.End(e.baseContext)
		e.emitter.end()
	})
}

// Pause stops the microphone and the transport but keeps the session
// identity so [Engine.Resume] can continue the same conversation.
func (e *Engine) Pause(ctx context.Context) error {
	_, span := tracer.Start(ctx, "pause session")
	defer span.End()

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.guard.Advance()
	e.reconnect.Stop()
	e.cancelTurnLocked("pause", false)
	e.stopGreetingLocked()
	e.stopListeningLocked()
	e.detector.Reset()
	conn, channel := e.conn, e.mic
	e.conn = nil
	e.transitionLocked(StatePaused, "pause")
	e.emit(events.NewMicStatusChanged(events.MicStatusOff, e.stamp()))
	e.mu.Unlock()

	var errs error
	if channel != nil {
		if err := channel.Stop(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if err := closeConn(conn); err != nil {
		errs = errors.Join(errs, err)
	}
	if errs != nil {
		span.RecordError(errs)
		span.SetStatus(codes.Error, errs.Error())
		logger.Warn("pause left resources behind", "error", errs)
	}
	return nil
}

// Resume reconnects a paused session and restarts the microphone.
func (e *Engine) Resume(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "resume session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotActive
	}
	token := e.guard.Current()
	e.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, e.config.StartTimeout)
	defer cancel()
	conn, err := e.dialer.Dial(dialCtx, e.params(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	e.mu.Lock()
	if e.state != StatePaused || !e.guard.IsCurrent(token) {
		e.mu.Unlock()
		closeQuietly(conn)
		return ErrNotActive
	}
	e.conn = conn
	e.autoPaused = false
	e.reconnect.Arm()
	channel, sessionCtx := e.mic, e.sessionCtx
	e.transitionLocked(StateActive, "resume")
	e.mu.Unlock()

	go e.consume(sessionCtx, conn)
	if err := e.startCapture(sessionCtx, channel, conn); err != nil {
		return err
	}
	return nil
}

// SetPageHidden pauses an active session while the page is hidden and resumes
// it when the page becomes visible again. Sessions paused explicitly stay
// paused.
func (e *Engine) SetPageHidden(ctx context.Context, hidden bool) error {
	e.mu.Lock()
	state, autoPaused := e.state, e.autoPaused
	e.mu.Unlock()

	switch {
	case hidden && state == StateActive:
		if err := e.Pause(ctx); err != nil {
			return err
		}
		e.mu.Lock()
		if e.state == StatePaused {
			e.autoPaused = true
		}
		e.mu.Unlock()
		return nil

	case !hidden && state == StatePaused && autoPaused:
		return e.Resume(ctx)
	}
	return nil
}

// SetMicMuted keeps the microphone streaming but sends silence while muted.
func (e *Engine) SetMicMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mic == nil {
		return
	}
	e.mic.SetMuted(muted)
	if e.state == StateActive {
		e.emit(events.NewMicStatusChanged(micStatus(e.mic), e.stamp()))
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Token returns the current session token.
func (e *Engine) Token() generation.Token {
	return e.guard.Current()
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := Snapshot{
		State:       e.state,
		CurrentTurn: e.currentTurn,
		Token:       uint64(e.guard.Current()),
		Speaking:    e.speaking,
		AutoPaused:  e.autoPaused,
	}
	if e.session != nil {
		session := *e.session
		snapshot.Session = &session
	}
	if e.mic != nil {
		snapshot.MicMuted = e.mic.IsMuted()
	}
	return snapshot
}

func (e *Engine) transitionLocked(to State, reason string) {
	from := e.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		logger.Warn("unexpected session state transition", "from", from, "to", to, "reason", reason)
	}

	e.state = to
	if e.session != nil {
		e.session.State = to
	}
	e.metrics.StateChanged(string(to))
	e.emit(events.NewStateChanged(string(from), string(to), reason, e.stamp()))
}

// sessionResources are detached from the engine under the lock and released
// after it is dropped.
type sessionResources struct {
	conn       transport.Transport
	mic        *mic.Channel
	renderer   Renderer
	sessionID  string
	registered bool
}

func (e *Engine) detachLocked(to State, reason string) sessionResources {
	e.guard.Advance()
	e.reconnect.Stop()
	e.cancelTurnLocked(reason, false)
	e.turns.Cancel()
	e.detector.Reset()
	e.stopListeningLocked()
	e.stopGreetingLocked()
	if e.cancelSession != nil {
		e.cancelSession()
		e.cancelSession = nil
	}

	resources := sessionResources{conn: e.conn, mic: e.mic, registered: e.registered}
	if e.session != nil {
		resources.sessionID = e.session.ID
		resources.renderer = e.renderer(e.session.Mode)
	}

	e.conn = nil
	e.mic = nil
	e.registered = false
	e.speaking = false
	e.autoPaused = false
	e.lastMessage = nil

	e.transitionLocked(to, reason)
	if resources.mic != nil {
		e.emit(events.NewMicStatusChanged(events.MicStatusReleased, e.stamp()))
	}
	e.session = nil
	return resources
}

// release closes everything a session held, concurrently. Every failure is
// reported; none stops the others.
func (e *Engine) release(ctx context.Context, resources sessionResources) error {
	var (
		mu    sync.Mutex
		errs  error
		group errgroup.Group
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = errors.Join(errs, err)
		mu.Unlock()
	}

	if resources.conn != nil {
		group.Go(func() error {
			collect(closeConn(resources.conn))
			return nil
		})
	}
	if resources.mic != nil {
		group.Go(func() error {
			collect(resources.mic.Release())
			return nil
		})
	}
	if resources.renderer != nil {
		group.Go(func() error {
			if err := resources.renderer.Stop(ctx); err != nil {
				collect(fmt.Errorf("failed to stop renderer: %w", err))
			}
			return nil
		})
	}
	if resources.registered && e.remote != nil {
		group.Go(func() error {
			if err := e.remote.EndSession(ctx, resources.sessionID); err != nil {
				collect(fmt.Errorf("failed to end remote session: %w", err))
			}
			return nil
		})
	}

	_ = group.Wait()
	return errs
}

func (e *Engine) releaseMic(channel *mic.Channel) {
	if err := channel.Release(); err != nil {
		logger.Warn("failed to release microphone", "error", err)
	}
}

// startCapture points the microphone at conn and reports the new status.
func (e *Engine) startCapture(ctx context.Context, channel *mic.Channel, conn transport.Transport) error {
	if channel == nil {
		return fmt.Errorf("%w: no microphone", ErrDevice)
	}
	if err := channel.Start(ctx, e.micSink(conn)); err != nil {
		err = fmt.Errorf("%w: %w", ErrDevice, err)
		e.emit(events.NewMicStatusChanged(events.MicStatusOff, e.stamp()))
		e.emit(events.NewSessionError(err, true, e.stamp()))
		return err
	}
	e.emit(events.NewMicStatusChanged(micStatus(channel), e.stamp()))
	return nil
}

func (e *Engine) micSink(conn transport.Transport) mic.Sink {
	return func(frame []byte) error {
		if err := conn.SendAudioFrame(frame); err != nil {
			return err
		}
		e.metrics.MicFrameSent()
		return nil
	}
}

func (e *Engine) params(resume bool) transport.Params {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return transport.Params{Resume: resume}
	}
	return transport.Params{
		SessionID: e.session.ID,
		UserID:    e.session.UserID,
		AvatarID:  e.session.AvatarID,
		Mode:      e.session.Mode,
		Resume:    resume,
	}
}

func (e *Engine) renderer(mode transport.Mode) Renderer {
	if renderer, ok := e.renderers[mode]; ok {
		return renderer
	}
	return noopRenderer{}
}

func (e *Engine) emit(event events.Event) {
	e.emitter.emit(event)
}

func (e *Engine) stamp() events.BaseOption {
	return events.WithGeneration(uint64(e.guard.Current()))
}

func (e *Engine) backgroundContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessionCtx != nil {
		return e.sessionCtx
	}
	return e.baseContext
}

func micStatus(channel *mic.Channel) events.MicStatus {
	if channel.IsMuted() {
		return events.MicStatusMuted
	}
	return events.MicStatusListening
}

func closeConn(conn transport.Transport) error {
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

func closeQuietly(conn transport.Transport) {
	if err := closeConn(conn); err != nil {
		logger.Debug("failed to close discarded transport", "error", err)
	}
}

func classifyRemoteError(err error) error {
	switch {
	case errors.Is(err, remote.ErrRateLimited):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case errors.Is(err, remote.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrRemoteSessionExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
}

func recordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
