package events

import "time"

const (
	// KindReconnectScheduled identifies a scheduled reconnect attempt.
	KindReconnectScheduled Kind = "connection.reconnect_scheduled"
	// KindReconnectExhausted identifies the end of automatic retries.
	KindReconnectExhausted Kind = "connection.reconnect_exhausted"
	// KindReconnectRestored identifies a restored connection.
	KindReconnectRestored Kind = "connection.reconnect_restored"
)

// ReconnectScheduled carries the attempt number and its delay.
type ReconnectScheduled struct {
	Base
	Attempt int
	Delay   time.Duration
}

// NewReconnectScheduled creates a reconnect scheduled event.
func NewReconnectScheduled(attempt int, delay time.Duration, opts ...BaseOption) ReconnectScheduled {
	return ReconnectScheduled{Base: NewBase(KindReconnectScheduled, opts...), Attempt: attempt, Delay: delay}
}

// ReconnectExhausted asks the caller to offer a manual retry.
type ReconnectExhausted struct {
	Base
	Attempts int
}

// NewReconnectExhausted creates a reconnect exhausted event.
func NewReconnectExhausted(attempts int, opts ...BaseOption) ReconnectExhausted {
	return ReconnectExhausted{Base: NewBase(KindReconnectExhausted, opts...), Attempts: attempts}
}

// ReconnectRestored reports a restored connection.
type ReconnectRestored struct {
	Base
	Attempts int
}

// NewReconnectRestored creates a reconnect restored event.
func NewReconnectRestored(attempts int, opts ...BaseOption) ReconnectRestored {
	return ReconnectRestored{Base: NewBase(KindReconnectRestored, opts...), Attempts: attempts}
}
