package orchestration

import (
	"slices"

	"github.com/koscakluka/ema-avatar/core/transport"
)

// State is the lifecycle position of the engine's session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StatePaused       State = "paused"
	StateReconnecting State = "reconnecting"
	StateEnded        State = "ended"
)

var transitions = map[State][]State{
	StateIdle:         {StateConnecting, StateEnded},
	StateConnecting:   {StateActive, StateIdle, StateEnded},
	StateActive:       {StatePaused, StateReconnecting, StateIdle, StateEnded},
	StatePaused:       {StateActive, StateIdle, StateEnded},
	StateReconnecting: {StateActive, StateIdle, StateEnded},
	StateEnded:        {StateConnecting},
}

// CanTransition reports whether the state machine allows moving from one
// state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// hasSession reports whether a session identity exists in state s.
func (s State) hasSession() bool {
	switch s {
	case StateConnecting, StateActive, StatePaused, StateReconnecting:
		return true
	}
	return false
}

// Session is the engine's view of the current conversation.
type Session struct {
	ID          string
	UserID      string
	AvatarID    string
	Mode        transport.Mode
	State       State
	TurnCounter int
}

// Snapshot is a point in time copy of the engine state for display.
type Snapshot struct {
	State   State
	Session *Session
	// CurrentTurn is -1 before the first turn.
	CurrentTurn int
	Token       uint64
	Speaking    bool
	MicMuted    bool
	AutoPaused  bool
}
