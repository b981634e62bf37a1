package events

const (
	// KindBargeIn identifies user speech interrupting the avatar.
	KindBargeIn Kind = "interruption.barge_in"
	// KindEchoSuppressed identifies a transcript discarded as echo.
	KindEchoSuppressed Kind = "interruption.echo_suppressed"
)

// BargeIn reports an interruption of the current turn.
type BargeIn struct {
	Base
	TurnID     int
	Reason     string
	Transcript string
}

// NewBargeIn creates a barge-in event.
func NewBargeIn(turnID int, reason, transcript string, opts ...BaseOption) BargeIn {
	return BargeIn{Base: NewBase(KindBargeIn, opts...), TurnID: turnID, Reason: reason, Transcript: transcript}
}

// EchoSuppressed reports a transcript recognised as the avatar's own voice.
type EchoSuppressed struct {
	Base
	Transcript string
}

// NewEchoSuppressed creates an echo suppressed event.
func NewEchoSuppressed(transcript string, opts ...BaseOption) EchoSuppressed {
	return EchoSuppressed{Base: NewBase(KindEchoSuppressed, opts...), Transcript: transcript}
}
