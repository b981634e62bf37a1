package orchestration

import (
	"context"

	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/metrics"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/remote"
	"github.com/koscakluka/ema-avatar/core/transport"
)

type EngineOption func(*Engine)

// Renderer presents one output modality, e.g. the avatar video surface.
type Renderer interface {
	Start(ctx context.Context, mode transport.Mode) error
	Stop(ctx context.Context) error
}

// Remote is the subset of the REST collaborators the engine calls.
type Remote interface {
	RegisterSession(ctx context.Context, request remote.RegisterSessionRequest) (remote.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	Greeting(ctx context.Context, avatarID string) (string, error)
	SynthesizeSpeech(ctx context.Context, avatarID, text string) (remote.Speech, error)
}

// WithConfig replaces the whole engine configuration. Options applied after
// it can still adjust single fields.
func WithConfig(config Config) EngineOption {
	return func(e *Engine) {
		e.config = config
	}
}

// WithPlatform selects the row of the platform timing table.
func WithPlatform(platform string) EngineOption {
	return func(e *Engine) {
		e.config.Platform = platform
	}
}

func WithGreeting(mode GreetingMode) EngineOption {
	return func(e *Engine) {
		e.config.Greeting = mode
	}
}

func WithDialer(dialer transport.Dialer) EngineOption {
	return func(e *Engine) {
		e.dialer = dialer
	}
}

// WithMicrophone sets how the microphone is requested. The device is asked for
// at most once per session.
func WithMicrophone(acquire mic.Acquirer) EngineOption {
	return func(e *Engine) {
		e.acquire = acquire
	}
}

func WithAudioOutput(output playback.Output) EngineOption {
	return func(e *Engine) {
		e.output = output
	}
}

func WithRemote(client Remote) EngineOption {
	return func(e *Engine) {
		e.remote = client
	}
}

// WithRenderer registers the renderer for mode. Modes without a renderer are
// treated as always available.
func WithRenderer(mode transport.Mode, renderer Renderer) EngineOption {
	return func(e *Engine) {
		if renderer != nil {
			e.renderers[mode] = renderer
		}
	}
}

// WithObserver sets the single consumer of engine events. It is called from
// one goroutine, in emission order.
func WithObserver(observer func(events.Event)) EngineOption {
	return func(e *Engine) {
		e.observer = observer
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBaseContext sets the context background work such as reconnects and
// barge-in handling is traced under.
func WithBaseContext(ctx context.Context) EngineOption {
	return func(e *Engine) {
		if ctx != nil {
			e.baseContext = ctx
		}
	}
}

type noopRenderer struct{}

func (noopRenderer) Start(context.Context, transport.Mode) error { return nil }
func (noopRenderer) Stop(context.Context) error                  { return nil }
