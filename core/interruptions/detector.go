// Package interruptions decides when user speech should cut the avatar off.
//
// A [Detector] watches the streaming transcript together with the playback
// state and classifies every candidate as a barge-in, as echo of the avatar's
// own voice picked up by the microphone, or as something to ignore.
package interruptions

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/koscakluka/ema-avatar/core/generation"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultDebounce      = 150 * time.Millisecond
	DefaultEchoWindow    = 4 * time.Second
	DefaultEchoMaxLength = 15
	DefaultMinPartialLen = 2
)

type Classification string

const (
	ClassificationBargeIn   Classification = "barge_in"
	ClassificationPending   Classification = "pending"
	ClassificationEcho      Classification = "echo"
	ClassificationNoise     Classification = "noise"
	ClassificationIgnorable Classification = "ignorable"
)

type Reason string

const (
	ReasonDebounceElapsed Reason = "debounce_elapsed"
	ReasonSecondPartial   Reason = "second_partial"
	ReasonFinalTranscript Reason = "final_transcript"
)

// BargeIn describes a detected interruption.
type BargeIn struct {
	Reason     Reason
	Transcript string
	At         time.Time
}

type Detector struct {
	mu sync.Mutex

	debounce      time.Duration
	echoWindow    time.Duration
	echoMaxLength int
	minPartialLen int
	allowList     []string

	now       func() time.Time
	isPlaying func() bool
	onBargeIn func(BargeIn)
	onEcho    func(transcript string)

	utterance    string
	speaking     bool
	lastSpokenAt time.Time

	pending     string
	hasPending  bool
	timer       *time.Timer
	debounceGen generation.Guard
}

type DetectorOption func(*Detector)

func WithDebounce(debounce time.Duration) DetectorOption {
	return func(d *Detector) { d.debounce = debounce }
}

func WithEchoWindow(window time.Duration) DetectorOption {
	return func(d *Detector) { d.echoWindow = window }
}

func WithEchoMaxLength(length int) DetectorOption {
	return func(d *Detector) { d.echoMaxLength = length }
}

func WithMinPartialLength(length int) DetectorOption {
	return func(d *Detector) { d.minPartialLen = length }
}

// WithAllowList replaces the phrases that bypass echo suppression.
func WithAllowList(phrases ...string) DetectorOption {
	return func(d *Detector) { d.allowList = normalizeAll(phrases) }
}

func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPlaybackState sets the function reporting whether avatar audio is
// currently audible.
func WithPlaybackState(isPlaying func() bool) DetectorOption {
	return func(d *Detector) {
		if isPlaying != nil {
			d.isPlaying = isPlaying
		}
	}
}

func WithBargeInCallback(callback func(BargeIn)) DetectorOption {
	return func(d *Detector) {
		if callback != nil {
			d.onBargeIn = callback
		}
	}
}

func WithEchoCallback(callback func(transcript string)) DetectorOption {
	return func(d *Detector) {
		if callback != nil {
			d.onEcho = callback
		}
	}
}

func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		debounce:      DefaultDebounce,
		echoWindow:    DefaultEchoWindow,
		echoMaxLength: DefaultEchoMaxLength,
		minPartialLen: DefaultMinPartialLen,
		allowList:     normalizeAll(DefaultAllowList),
		now:           time.Now,
		isPlaying:     func() bool { return false },
		onBargeIn:     func(BargeIn) {},
		onEcho:        func(string) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AvatarStartedSpeaking records the text the avatar is about to say. An empty
// text keeps the previous utterance.
func (d *Detector) AvatarStartedSpeaking(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if text != "" {
		d.utterance = Normalize(text)
	}
	d.speaking = true
	d.lastSpokenAt = d.now()
}

// SetAvatarUtterance replaces the text used for echo matching without
// changing the speaking state.
func (d *Detector) SetAvatarUtterance(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.utterance = Normalize(text)
	d.lastSpokenAt = d.now()
}

// AvatarFinishedSpeaking starts the echo window.
func (d *Detector) AvatarFinishedSpeaking() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.speaking = false
	d.lastSpokenAt = d.now()
}

// Reset drops any pending debounce without firing it.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearPendingLocked()
}

// IsEcho reports whether transcript is most likely the avatar's own voice.
func (d *Detector) IsEcho(transcript string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.isEchoLocked(Normalize(transcript))
}

// Observe feeds one transcript event to the detector and returns how it was
// classified. A barge-in callback may run synchronously before Observe
// returns.
func (d *Detector) Observe(ctx context.Context, text string, isFinal bool) Classification {
	candidate := Normalize(text)

	d.mu.Lock()
	if utf8.RuneCountInString(candidate) < d.minPartialLen && !(isFinal && candidate != "") {
		d.mu.Unlock()
		return ClassificationNoise
	}

	if d.isEchoLocked(candidate) {
		d.mu.Unlock()
		logger.Debug("suppressed transcript as echo", "transcript", candidate, "final", isFinal)
		d.onEcho(candidate)
		return ClassificationEcho
	}

	playing := d.isPlaying()
	switch {
	case isFinal && (d.hasPending || playing):
		d.clearPendingLocked()
		d.mu.Unlock()
		d.fire(ctx, BargeIn{Reason: ReasonFinalTranscript, Transcript: candidate, At: d.now()})
		return ClassificationBargeIn

	case isFinal:
		d.mu.Unlock()
		return ClassificationIgnorable

	case d.hasPending:
		d.clearPendingLocked()
		d.mu.Unlock()
		d.fire(ctx, BargeIn{Reason: ReasonSecondPartial, Transcript: candidate, At: d.now()})
		return ClassificationBargeIn

	case !playing:
		d.mu.Unlock()
		return ClassificationIgnorable
	}

	d.pending = candidate
	d.hasPending = true
	token := d.debounceGen.Advance()
	d.timer = time.AfterFunc(d.debounce, func() { d.debounceElapsed(ctx, token) })
	d.mu.Unlock()

	return ClassificationPending
}

func (d *Detector) debounceElapsed(ctx context.Context, token generation.Token) {
	d.mu.Lock()
	if !d.debounceGen.IsCurrent(token) || !d.hasPending {
		d.mu.Unlock()
		return
	}
	candidate := d.pending
	d.clearPendingLocked()
	playing := d.isPlaying()
	d.mu.Unlock()

	if !playing {
		return
	}
	d.fire(ctx, BargeIn{Reason: ReasonDebounceElapsed, Transcript: candidate, At: d.now()})
}

func (d *Detector) fire(ctx context.Context, bargeIn BargeIn) {
	_, span := tracer.Start(ctx, "detect barge-in")
	defer span.End()
	span.SetAttributes(
		attribute.String("barge_in.reason", string(bargeIn.Reason)),
		attribute.String("barge_in.transcript", bargeIn.Transcript),
	)

	d.onBargeIn(bargeIn)
}

func (d *Detector) isEchoLocked(candidate string) bool {
	if candidate == "" || d.utterance == "" {
		return false
	}

	for _, phrase := range d.allowList {
		if containsPhrase(candidate, phrase) {
			return false
		}
	}

	if utf8.RuneCountInString(candidate) > d.echoMaxLength {
		return false
	}
	if !d.speaking && d.now().Sub(d.lastSpokenAt) > d.echoWindow {
		return false
	}
	return containsPhrase(d.utterance, candidate)
}

func (d *Detector) clearPendingLocked() {
	d.debounceGen.Advance()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = ""
	d.hasPending = false
}
