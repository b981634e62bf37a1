package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestChunkFrameLayout(t *testing.T) {
	frame := EncodeChunk(3, 7, []byte{0xAA, 0xBB})

	expected := []byte{'A', 'V', 'T', 'R', 3, 0, 0, 0, 7, 0, 0, 0, 0xAA, 0xBB}
	if !bytes.Equal(frame, expected) {
		t.Fatalf("expected frame %v, got %v", expected, frame)
	}

	chunk, err := DecodeChunk(frame)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if chunk.TurnID != 3 || chunk.Index != 7 || !bytes.Equal(chunk.PCM, []byte{0xAA, 0xBB}) {
		t.Fatalf("expected turn 3 chunk 7 with payload, got %+v", chunk)
	}
}

func TestDecodeChunkRejectsBadFrames(t *testing.T) {
	if _, err := DecodeChunk([]byte("AVTR")); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	if _, err := DecodeChunk([]byte("RIFF\x00\x00\x00\x00\x00\x00\x00\x00")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeEvent(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		check   func(Event) bool
	}{
		{
			name:    "session started",
			payload: `{"type":"session_started","session_id":"abc"}`,
			check:   func(e Event) bool { s, ok := e.(SessionStarted); return ok && s.SessionID == "abc" },
		},
		{
			name:    "partial transcript",
			payload: `{"type":"transcript","text":"hel","is_final":false}`,
			check:   func(e Event) bool { p, ok := e.(TranscriptPartial); return ok && p.Text == "hel" && p.TurnID == nil },
		},
		{
			name:    "final transcript",
			payload: `{"type":"transcript","text":"hello","is_final":true,"turn_id":2}`,
			check: func(e Event) bool {
				f, ok := e.(TranscriptFinal)
				return ok && f.Text == "hello" && f.TurnID != nil && *f.TurnID == 2
			},
		},
		{
			name:    "turn start",
			payload: `{"type":"turn_start","turn_id":4,"text":"Hi there"}`,
			check:   func(e Event) bool { s, ok := e.(TurnStart); return ok && s.TurnID == 4 && s.Text == "Hi there" },
		},
		{
			name:    "turn end",
			payload: `{"type":"turn_end","turn_id":4}`,
			check:   func(e Event) bool { s, ok := e.(TurnEnd); return ok && s.TurnID == 4 },
		},
		{
			name:    "stop audio",
			payload: `{"type":"stop_audio","turn_id":0}`,
			check:   func(e Event) bool { s, ok := e.(StopAudio); return ok && s.TurnID == 0 },
		},
		{
			name:    "error",
			payload: `{"type":"error","message":"expired","code":"session_expired"}`,
			check:   func(e Event) bool { s, ok := e.(Error); return ok && s.Code == ErrorCodeSessionExpired },
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(testCase.payload))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !testCase.check(event) {
				t.Fatalf("unexpected event %#v", event)
			}
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"dance"}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`{"type":"turn_end"}`)); !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("expected ErrMalformedJSON for missing turn id, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`not json`)); !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("expected ErrMalformedJSON, got %v", err)
	}
}

func TestEncodeTextCarriesImageAsBase64(t *testing.T) {
	data, err := EncodeText(TextMessage{TurnID: 5, Text: "look", Image: &Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("expected valid json, got %v", err)
	}
	if decoded["type"] != "text" || decoded["turn_id"] != float64(5) || decoded["image"] != "AQID" || decoded["image_mime"] != "image/png" {
		t.Fatalf("unexpected message %v", decoded)
	}
}

func TestEncodeControlCancelTurnIncludesZeroTurnID(t *testing.T) {
	data, err := EncodeControl(Control{Type: ControlCancelTurn, TurnID: 0})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !bytes.Contains(data, []byte(`"turn_id":0`)) {
		t.Fatalf("expected turn_id 0 in %s", data)
	}
	if _, err := EncodeControl(Control{Type: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown control type")
	}
}
