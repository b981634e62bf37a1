package events

const (
	// KindStateChanged identifies a session state transition.
	KindStateChanged Kind = "session.state_changed"
	// KindSessionStarted identifies transport confirmation of the session.
	KindSessionStarted Kind = "session.started"
	// KindStartTimedOut identifies the start ceiling elapsing.
	KindStartTimedOut Kind = "session.start_timed_out"
	// KindModeSwitched identifies a completed output modality switch.
	KindModeSwitched Kind = "session.mode_switched"
	// KindModeSwitchFailed identifies a rolled back modality switch.
	KindModeSwitchFailed Kind = "session.mode_switch_failed"
	// KindSessionError identifies an error worth surfacing to the user.
	KindSessionError Kind = "session.error"
)

// StateChanged reports a session state transition.
type StateChanged struct {
	Base
	From   string
	To     string
	Reason string
}

// NewStateChanged creates a state changed event.
func NewStateChanged(from, to, reason string, opts ...BaseOption) StateChanged {
	return StateChanged{Base: NewBase(KindStateChanged, opts...), From: from, To: to, Reason: reason}
}

// SessionStarted reports that the remote side accepted the session.
type SessionStarted struct {
	Base
	SessionID string
	AvatarID  string
	Mode      string
}

// NewSessionStarted creates a session started event.
func NewSessionStarted(sessionID, avatarID, mode string, opts ...BaseOption) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted, opts...), SessionID: sessionID, AvatarID: avatarID, Mode: mode}
}

// StartTimedOut reports that loading was force-cleared.
type StartTimedOut struct{ Base }

// NewStartTimedOut creates a start timed out event.
func NewStartTimedOut(opts ...BaseOption) StartTimedOut {
	return StartTimedOut{Base: NewBase(KindStartTimedOut, opts...)}
}

// ModeSwitched reports a completed modality switch.
type ModeSwitched struct {
	Base
	From string
	To   string
}

// NewModeSwitched creates a mode switched event.
func NewModeSwitched(from, to string, opts ...BaseOption) ModeSwitched {
	return ModeSwitched{Base: NewBase(KindModeSwitched, opts...), From: from, To: to}
}

// ModeSwitchFailed reports a modality switch that was rolled back.
type ModeSwitchFailed struct {
	Base
	Requested string
	Restored  string
	Err       error
}

// NewModeSwitchFailed creates a mode switch failed event.
func NewModeSwitchFailed(requested, restored string, err error, opts ...BaseOption) ModeSwitchFailed {
	return ModeSwitchFailed{Base: NewBase(KindModeSwitchFailed, opts...), Requested: requested, Restored: restored, Err: err}
}

// SessionError carries an error with enough detail to render a retry action.
type SessionError struct {
	Base
	Err       error
	Retryable bool
}

// NewSessionError creates a session error event.
func NewSessionError(err error, retryable bool, opts ...BaseOption) SessionError {
	return SessionError{Base: NewBase(KindSessionError, opts...), Err: err, Retryable: retryable}
}
