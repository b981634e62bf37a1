package transport

import "fmt"

// Event is anything the remote side can tell the engine.
type Event interface {
	isEvent()
}

type SessionStarted struct {
	SessionID string
}

type TranscriptPartial struct {
	Text   string
	TurnID *int
}

type TranscriptFinal struct {
	Text   string
	TurnID *int
}

type TurnStart struct {
	TurnID int
	// Text is what the avatar is going to say, when the backend knows it.
	Text string
}

type TurnEnd struct {
	TurnID int
}

type AudioChunk struct {
	TurnID int
	Index  int
	PCM    []byte
}

type StopAudio struct {
	TurnID int
}

// ErrorCode classifies remote errors.
type ErrorCode string

const (
	ErrorCodeSessionExpired ErrorCode = "session_expired"
	ErrorCodeRateLimited    ErrorCode = "rate_limited"
	ErrorCodeStream         ErrorCode = "stream_error"
)

type Error struct {
	Message string
	Code    ErrorCode
	// TurnID is set when the error only affects one turn.
	TurnID *int
}

func (e Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Disconnected is the last event of a transport.
type Disconnected struct {
	Err         error
	Intentional bool
}

func (SessionStarted) isEvent()    {}
func (TranscriptPartial) isEvent() {}
func (TranscriptFinal) isEvent()   {}
func (TurnStart) isEvent()         {}
func (TurnEnd) isEvent()           {}
func (AudioChunk) isEvent()        {}
func (StopAudio) isEvent()         {}
func (Error) isEvent()             {}
func (Disconnected) isEvent()      {}
