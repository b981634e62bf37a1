package events

const (
	// KindUserTranscriptPartial identifies mutable interim transcript snapshots.
	KindUserTranscriptPartial Kind = "user_input.transcript_partial"
	// KindUserTranscriptFinal identifies the terminal transcript of an utterance.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
	// KindMicStatusChanged identifies microphone status changes.
	KindMicStatusChanged Kind = "user_input.mic_status_changed"
)

type MicStatus string

const (
	MicStatusOff       MicStatus = "off"
	MicStatusListening MicStatus = "listening"
	MicStatusMuted     MicStatus = "muted"
	MicStatusReleased  MicStatus = "released"
)

// UserTranscriptPartial carries the current interim transcript.
type UserTranscriptPartial struct {
	Base
	Text string
}

// NewUserTranscriptPartial creates a partial transcript event.
func NewUserTranscriptPartial(text string, opts ...BaseOption) UserTranscriptPartial {
	return UserTranscriptPartial{Base: NewBase(KindUserTranscriptPartial, opts...), Text: text}
}

// UserTranscriptFinal carries the final transcript of an utterance.
type UserTranscriptFinal struct {
	Base
	Text string
}

// NewUserTranscriptFinal creates a final transcript event.
func NewUserTranscriptFinal(text string, opts ...BaseOption) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal, opts...), Text: text}
}

// MicStatusChanged reports the new microphone status.
type MicStatusChanged struct {
	Base
	Status MicStatus
}

// NewMicStatusChanged creates a mic status changed event.
func NewMicStatusChanged(status MicStatus, opts ...BaseOption) MicStatusChanged {
	return MicStatusChanged{Base: NewBase(KindMicStatusChanged, opts...), Status: status}
}
