package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/remote"
	"github.com/koscakluka/ema-avatar/core/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	events   chan transport.Event
	frames   int
	texts    []transport.TextMessage
	controls []transport.Control
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 128)}
}

func (f *fakeTransport) SendAudioFrame([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.frames++
	return nil
}

func (f *fakeTransport) SendText(message transport.TextMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.texts = append(f.texts, message)
	return nil
}

func (f *fakeTransport) SendControl(control transport.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.controls = append(f.controls, control)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) Close() error {
	f.finish(transport.Disconnected{Intentional: true})
	return nil
}

// drop simulates the connection going away on its own.
func (f *fakeTransport) drop(err error) {
	f.finish(transport.Disconnected{Err: err})
}

func (f *fakeTransport) finish(last transport.Disconnected) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.events <- last
	close(f.events)
}

func (f *fakeTransport) push(event transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- event
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentTexts() []transport.TextMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.TextMessage(nil), f.texts...)
}

func (f *fakeTransport) sentControls(controlType transport.ControlType) []transport.Control {
	f.mu.Lock()
	defer f.mu.Unlock()

	var controls []transport.Control
	for _, control := range f.controls {
		if control.Type == controlType {
			controls = append(controls, control)
		}
	}
	return controls
}

type fakeDialer struct {
	mu         sync.Mutex
	params     []transport.Params
	transports []*fakeTransport
	// fail decides whether the n-th dial (zero based) fails.
	fail func(n int) error
	// silent dials never confirm the session.
	silent bool
}

func (d *fakeDialer) Dial(_ context.Context, params transport.Params) (transport.Transport, error) {
	d.mu.Lock()
	n := len(d.params)
	d.params = append(d.params, params)
	if d.fail != nil {
		if err := d.fail(n); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	conn := newFakeTransport()
	d.transports = append(d.transports, conn)
	silent := d.silent
	d.mu.Unlock()

	if !silent {
		conn.push(transport.SessionStarted{SessionID: params.SessionID})
	}
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.params)
}

func (d *fakeDialer) paramsAt(n int) transport.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params[n]
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) setFail(fail func(n int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

type fakeMicDevice struct {
	mu        sync.Mutex
	capturing bool
	starts    int
	stops     int
	closes    int
}

func (d *fakeMicDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *fakeMicDevice) StartCapture(context.Context, func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = true
	d.starts++
	return nil
}

func (d *fakeMicDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	d.stops++
	return nil
}

func (d *fakeMicDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeMicDevice) snapshot() (capturing bool, starts, stops, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing, d.starts, d.stops, d.closes
}

type fakeMicrophone struct {
	device       *fakeMicDevice
	deny         atomic.Bool
	acquisitions atomic.Int32
}

func (m *fakeMicrophone) acquire(context.Context) (mic.Device, error) {
	if m.deny.Load() {
		return nil, mic.ErrPermissionDenied
	}
	m.acquisitions.Add(1)
	return m.device, nil
}

type fakeHandle struct {
	stopped atomic.Bool
}

func (h *fakeHandle) Stop() { h.stopped.Store(true) }

type fakeOutput struct {
	mu      sync.Mutex
	units   []playback.Unit
	handles []*fakeHandle
}

func (o *fakeOutput) Play(unit playback.Unit) (playback.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle := &fakeHandle{}
	o.units = append(o.units, unit)
	o.handles = append(o.handles, handle)
	return handle, nil
}

func (o *fakeOutput) played() ([]playback.Unit, []*fakeHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]playback.Unit(nil), o.units...), append([]*fakeHandle(nil), o.handles...)
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.units)
}

type fakeRenderer struct {
	mu        sync.Mutex
	starts    int
	stops     int
	failStart bool
	// hang makes Start wait for ctx like a renderer that never finishes loading.
	hang bool
}

func (r *fakeRenderer) Start(ctx context.Context, _ transport.Mode) error {
	r.mu.Lock()
	r.starts++
	failStart, hang := r.failStart, r.hang
	r.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if failStart {
		return errors.New("renderer unavailable")
	}
	return nil
}

func (r *fakeRenderer) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRenderer) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type fakeRemote struct {
	mu          sync.Mutex
	registerErr error
	greeting    string
	speech      remote.Speech
	ended       []string
	// registerGate, when set, holds RegisterSession until it is closed,
	// regardless of the request context.
	registerGate chan struct{}
}

func (r *fakeRemote) RegisterSession(_ context.Context, request remote.RegisterSessionRequest) (remote.Session, error) {
	if r.registerGate != nil {
		<-r.registerGate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return remote.Session{}, r.registerErr
	}
	return remote.Session{ID: "remote-1", UserID: request.UserID, AvatarID: request.AvatarID, Mode: request.Mode}, nil
}

func (r *fakeRemote) EndSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, sessionID)
	return nil
}

func (r *fakeRemote) Greeting(context.Context, string) (string, error) {
	return r.greeting, nil
}

func (r *fakeRemote) SynthesizeSpeech(context.Context, string, string) (remote.Speech, error) {
	return r.speech, nil
}

func (r *fakeRemote) endedSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) observe(event events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) ofKind(kind events.Kind) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matching []events.Event
	for _, event := range l.events {
		if event.Kind() == kind {
			matching = append(matching, event)
		}
	}
	return matching
}

func (l *eventLog) waitFor(t *testing.T, kind events.Kind) events.Event {
	t.Helper()

	var found events.Event
	waitForCondition(t, 2*time.Second, func() bool {
		matching := l.ofKind(kind)
		if len(matching) == 0 {
			return false
		}
		found = matching[len(matching)-1]
		return true
	}, "event "+string(kind))
	return found
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	engine     *Engine
	dialer     *fakeDialer
	microphone *fakeMicrophone
	output     *fakeOutput
	log        *eventLog
}

func testConfig() Config {
	config := DefaultConfig()
	config.StartTimeout = 2 * time.Second
	config.Greeting = GreetingSkip
	config.PlatformTimings = map[string]PlatformTiming{
		DefaultPlatform: {MicResumeDelay: 10 * time.Millisecond},
	}
	config.ReconnectBaseDelay = 5 * time.Millisecond
	config.ReconnectMaxDelay = 20 * time.Millisecond
	return config
}

func newHarness(t *testing.T, config Config, opts ...EngineOption) *harness {
	t.Helper()

	h := &harness{
		dialer:     &fakeDialer{},
		microphone: &fakeMicrophone{device: &fakeMicDevice{}},
		output:     &fakeOutput{},
		log:        &eventLog{},
	}
	base := []EngineOption{
		WithConfig(config),
		WithDialer(h.dialer),
		WithMicrophone(h.microphone.acquire),
		WithAudioOutput(h.output),
		WithObserver(h.log.observe),
	}
	h.engine = NewEngine(append(base, opts...)...)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) start(t *testing.T, options StartOptions) {
	t.Helper()

	if err := h.engine.Start(context.Background(), options); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
}

func (h *harness) waitForState(t *testing.T, state State) {
	t.Helper()
	waitForCondition(t, 2*time.Second, func() bool { return h.engine.State() == state }, "state "+string(state))
}

// pcmFor returns silent linear16 audio of the given length at 16kHz.
func pcmFor(d time.Duration) []byte {
	return make([]byte, audio.GetDefaultEncodingInfo().BytesFor(d))
}
