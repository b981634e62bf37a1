package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameMagic prefixes every binary audio frame sent by the backend.
const FrameMagic = "AVTR"

// FrameHeaderSize is the magic marker, the turn id and the chunk index.
const FrameHeaderSize = len(FrameMagic) + 4 + 4

var (
	ErrShortFrame    = errors.New("audio frame shorter than header")
	ErrBadMagic      = errors.New("audio frame has unknown magic marker")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrMalformedJSON = errors.New("malformed event")
)

// EncodeChunk builds a binary audio frame.
func EncodeChunk(turnID, index int, pcm []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(pcm))
	copy(frame, FrameMagic)
	binary.LittleEndian.PutUint32(frame[4:], uint32(turnID))
	binary.LittleEndian.PutUint32(frame[8:], uint32(index))
	copy(frame[FrameHeaderSize:], pcm)
	return frame
}

// DecodeChunk parses a binary audio frame. The returned PCM aliases frame.
func DecodeChunk(frame []byte) (AudioChunk, error) {
	if len(frame) < FrameHeaderSize {
		return AudioChunk{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if string(frame[:len(FrameMagic)]) != FrameMagic {
		return AudioChunk{}, fmt.Errorf("%w: %q", ErrBadMagic, frame[:len(FrameMagic)])
	}

	return AudioChunk{
		TurnID: int(binary.LittleEndian.Uint32(frame[4:])),
		Index:  int(binary.LittleEndian.Uint32(frame[8:])),
		PCM:    frame[FrameHeaderSize:],
	}, nil
}

type ControlType string

const (
	ControlStart      ControlType = "start"
	ControlCancelTurn ControlType = "cancel_turn"
	ControlMode       ControlType = "mode"
	ControlGreet      ControlType = "greet"
)

// Control is an outbound instruction to the backend.
type Control struct {
	Type   ControlType
	TurnID int
	Mode   Mode
	// Text carries the greeting for [ControlGreet].
	Text   string
	Params *Params
}

type outboundMessage struct {
	Type      string `json:"type"`
	TurnID    *int   `json:"turn_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	AvatarID  string `json:"avatar_id,omitempty"`
	Resume    bool   `json:"resume,omitempty"`
}

// EncodeControl serialises a control message as JSON.
func EncodeControl(control Control) ([]byte, error) {
	message := outboundMessage{Type: string(control.Type), Text: control.Text, Mode: control.Mode}
	switch control.Type {
	case ControlCancelTurn, ControlGreet:
		turnID := control.TurnID
		message.TurnID = &turnID
	case ControlStart:
		if control.Params != nil {
			message.SessionID = control.Params.SessionID
			message.UserID = control.Params.UserID
			message.AvatarID = control.Params.AvatarID
			message.Mode = control.Params.Mode
			message.Resume = control.Params.Resume
		}
	case ControlMode:
	default:
		return nil, fmt.Errorf("unknown control type %q", control.Type)
	}
	return json.Marshal(message)
}

// EncodeText serialises a user message as JSON. Images are base64 encoded.
func EncodeText(text TextMessage) ([]byte, error) {
	turnID := text.TurnID
	message := outboundMessage{Type: "text", TurnID: &turnID, Text: text.Text}
	if text.Image != nil {
		message.Image = text.Image.Data
		message.ImageMIME = text.Image.MIMEType
	}
	return json.Marshal(message)
}

type inboundMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	TurnID    *int      `json:"turn_id"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code"`
}

// DecodeEvent parses one JSON control event.
func DecodeEvent(data []byte) (Event, error) {
	var message inboundMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}

	turnID := func() (int, error) {
		if message.TurnID == nil {
			return 0, fmt.Errorf("%w: %s without turn_id", ErrMalformedJSON, message.Type)
		}
		return *message.TurnID, nil
	}

	switch message.Type {
	case "session_started":
		return SessionStarted{SessionID: message.SessionID}, nil
	case "transcript":
		if message.IsFinal {
			return TranscriptFinal{Text: message.Text, TurnID: message.TurnID}, nil
		}
		return TranscriptPartial{Text: message.Text, TurnID: message.TurnID}, nil
	case "turn_start":
		id, err := turnID()
		if err != nil {
			return nil, err
		}
		return TurnStart{TurnID: id, Text: message.Text}, nil
	case "turn_end":
		id, err := turnID()
		if err != nil {
			return nil, err
		}
		return TurnEnd{TurnID: id}, nil
	case "stop_audio":
		id, err := turnID()
		if err != nil {
			return nil, err
		}
		return StopAudio{TurnID: id}, nil
	case "error":
		return Error{Message: message.Message, Code: message.Code, TurnID: message.TurnID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, message.Type)
	}
}
