package events

const (
	// KindTurnStarted identifies a new current turn.
	KindTurnStarted Kind = "turn_state.started"
	// KindTurnEnded identifies a turn that stopped draining.
	KindTurnEnded Kind = "turn_state.ended"
	// KindTurnCancelled identifies turn cancellation.
	KindTurnCancelled Kind = "turn_state.cancelled"
)

// TurnStarted marks a new current turn.
type TurnStarted struct {
	Base
	TurnID int
	Text   string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID int, text string, opts ...BaseOption) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted, opts...), TurnID: turnID, Text: text}
}

// TurnEnded marks the end of a turn. Outcome is one of completed, timed_out,
// stream_error or playback_error.
type TurnEnded struct {
	Base
	TurnID  int
	Outcome string
	Played  int
}

// NewTurnEnded creates a turn ended event.
func NewTurnEnded(turnID int, outcome string, played int, opts ...BaseOption) TurnEnded {
	return TurnEnded{Base: NewBase(KindTurnEnded, opts...), TurnID: turnID, Outcome: outcome, Played: played}
}

// TurnCancelled marks cancellation of a turn.
type TurnCancelled struct {
	Base
	TurnID int
	Reason string
}

// NewTurnCancelled creates a turn cancelled event.
func NewTurnCancelled(turnID int, reason string, opts ...BaseOption) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled, opts...), TurnID: turnID, Reason: reason}
}
