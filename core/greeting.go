package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/generation"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/transport"
)

// greetingTurnID is reserved for the greeting in every session.
const greetingTurnID = 0

// greetingText fetches what the avatar should greet with. The second result
// is false when the greeting is skipped.
func (e *Engine) greetingText(ctx context.Context, avatarID string) (string, bool) {
	switch e.config.Greeting {
	case GreetingSkip:
		return "", false
	case GreetingLocal:
		if e.remote == nil {
			logger.Warn("skipping local greeting, no speech synthesis configured")
			return "", false
		}
	}

	if e.remote == nil {
		return "", true
	}

	text, err := awaitStart(ctx, func(ctx context.Context) (string, error) {
		return e.remote.Greeting(ctx, avatarID)
	}, nil)
	if err != nil {
		logger.Warn("skipping greeting, failed to fetch text", "avatar_id", avatarID, "error", err)
		return "", false
	}
	return text, true
}

// dispatchGreetingLocked opens turn 0 and hands it to whoever speaks it.
func (e *Engine) dispatchGreetingLocked(text string) {
	e.beginTurnLocked(greetingTurnID, text)

	switch e.config.Greeting {
	case GreetingRemote:
		control := transport.Control{Type: transport.ControlGreet, TurnID: greetingTurnID, Text: text}
		if err := e.conn.SendControl(control); err != nil {
			logger.Warn("failed to request greeting", "error", err)
			e.turns.Fail(greetingTurnID, err)
		}

	case GreetingLocal:
		ctx, cancel := context.WithCancel(e.sessionCtx)
		e.stopGreeting = cancel
		go e.playLocalGreeting(ctx, e.guard.Current(), e.session.AvatarID, text)
	}
}

func (e *Engine) playLocalGreeting(ctx context.Context, token generation.Token, avatarID, text string) {
	ctx, span := tracer.Start(ctx, "synthesize greeting")
	defer span.End()

	speech, err := e.remote.SynthesizeSpeech(ctx, avatarID, text)
	if err == nil {
		speech.PCM, err = resampleSpeech(speech.PCM, speech.SampleRate, e.config.OutputEncoding.SampleRate)
	}
	if err != nil {
		recordError(ctx, err)
		e.guard.Run(token, func() { e.turns.Fail(greetingTurnID, fmt.Errorf("failed to synthesize greeting: %w", err)) })
		return
	}

	e.guard.Run(token, func() {
		e.turns.Push(playback.Chunk{TurnID: greetingTurnID, Index: 0, PCM: speech.PCM})
		e.turns.End(greetingTurnID)
	})
}

func (e *Engine) stopGreetingLocked() {
	if e.stopGreeting != nil {
		e.stopGreeting()
		e.stopGreeting = nil
	}
}

func resampleSpeech(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || fromRate == toRate {
		return pcm, nil
	}
	samples, err := audio.DecodeLinear16(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode synthesized speech: %w", err)
	}
	return audio.EncodeLinear16(audio.Resample(samples, fromRate, toRate)), nil
}
