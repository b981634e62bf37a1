// Package transport defines the duplex channel a session talks to the remote
// speech, language and voice backend through.
//
// The engine only depends on [Transport] and [Dialer]; binding them to a
// concrete protocol lives in subpackages such as transport/websocket.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("transport closed")
	ErrDial   = errors.New("failed to connect transport")
)

// Mode selects the output modality of a session.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) IsVideo() bool { return m == ModeVideo }

// Params identify the remote session a transport is opened for.
type Params struct {
	SessionID string
	UserID    string
	AvatarID  string
	Mode      Mode
	// Resume asks the backend to keep the conversation of SessionID instead of
	// starting a new one.
	Resume bool
}

// Image is an optional picture attached to a text message.
type Image struct {
	MIMEType string
	Data     []byte
}

type TextMessage struct {
	TurnID int
	Text   string
	Image  *Image
}

// Transport is one open connection. Events is closed after the connection is
// gone and a final [Disconnected] event was delivered.
type Transport interface {
	SendAudioFrame(frame []byte) error
	SendText(message TextMessage) error
	SendControl(control Control) error
	Events() <-chan Event
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, params Params) (Transport, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, params Params) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, params Params) (Transport, error) {
	return f(ctx, params)
}
