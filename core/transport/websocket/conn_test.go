package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-avatar/core/transport"
)

type serverHandler func(t *testing.T, ws *websocket.Conn, r *http.Request)

func newTestServer(t *testing.T, handle serverHandler) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer ws.Close()
		handle(t, ws, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextEvent(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()

	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("expected an event, channel was closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestDialSendsStartAndReceivesEvents(t *testing.T) {
	query := make(chan string, 1)
	start := make(chan map[string]any, 1)

	server := newTestServer(t, func(t *testing.T, ws *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery

		var message map[string]any
		if err := ws.ReadJSON(&message); err != nil {
			t.Errorf("failed to read start: %v", err)
			return
		}
		start <- message

		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_started","session_id":"s-1"}`))
		ws.WriteMessage(websocket.BinaryMessage, transport.EncodeChunk(0, 1, []byte{1, 0}))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"turn_end","turn_id":0}`))

		ws.ReadMessage()
	})

	conn, err := NewDialer(Config{URL: wsURL(server)}).Dial(context.Background(), transport.Params{
		SessionID: "s-1",
		AvatarID:  "ava",
		Mode:      transport.ModeAudio,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer conn.Close()

	if got := <-query; !strings.Contains(got, "session_id=s-1") || !strings.Contains(got, "avatar_id=ava") {
		t.Fatalf("expected session and avatar in query, got %q", got)
	}
	if message := <-start; message["type"] != "start" || message["session_id"] != "s-1" {
		t.Fatalf("expected start control, got %v", message)
	}

	if event, ok := nextEvent(t, conn.Events()).(transport.SessionStarted); !ok || event.SessionID != "s-1" {
		t.Fatalf("expected session started, got %#v", event)
	}
	if chunk, ok := nextEvent(t, conn.Events()).(transport.AudioChunk); !ok || chunk.Index != 1 {
		t.Fatalf("expected audio chunk 1, got %#v", chunk)
	}
	if end, ok := nextEvent(t, conn.Events()).(transport.TurnEnd); !ok || end.TurnID != 0 {
		t.Fatalf("expected turn end, got %#v", end)
	}
}

func TestRemoteCloseIsUnintentionalDisconnect(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, ws *websocket.Conn, r *http.Request) {
		ws.ReadMessage()
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	conn, err := NewDialer(Config{URL: wsURL(server)}).Dial(context.Background(), transport.Params{SessionID: "s"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer conn.Close()

	disconnected, ok := nextEvent(t, conn.Events()).(transport.Disconnected)
	if !ok {
		t.Fatalf("expected disconnected event")
	}
	if disconnected.Intentional || disconnected.Err == nil {
		t.Fatalf("expected unintentional disconnect with error, got %+v", disconnected)
	}
}

func TestCloseIsIntentional(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, ws *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, err := NewDialer(Config{URL: wsURL(server)}).Dial(context.Background(), transport.Params{SessionID: "s"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := conn.SendAudioFrame([]byte{0, 0}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	for event := range conn.Events() {
		if disconnected, ok := event.(transport.Disconnected); ok && !disconnected.Intentional {
			t.Fatalf("expected intentional disconnect, got %+v", disconnected)
		}
	}
}

func TestOutboundMessages(t *testing.T) {
	received := make(chan []byte, 3)
	server := newTestServer(t, func(t *testing.T, ws *websocket.Conn, r *http.Request) {
		ws.ReadMessage()
		for range 3 {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	})

	conn, err := NewDialer(Config{URL: wsURL(server)}).Dial(context.Background(), transport.Params{SessionID: "s"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer conn.Close()

	conn.SendAudioFrame([]byte{9, 9})
	conn.SendText(transport.TextMessage{TurnID: 2, Text: "hello"})
	conn.SendControl(transport.Control{Type: transport.ControlCancelTurn, TurnID: 1})

	if frame := <-received; len(frame) != 2 || frame[0] != 9 {
		t.Fatalf("expected bare pcm frame, got %v", frame)
	}

	var text map[string]any
	json.Unmarshal(<-received, &text)
	if text["type"] != "text" || text["text"] != "hello" {
		t.Fatalf("expected text message, got %v", text)
	}

	var cancel map[string]any
	json.Unmarshal(<-received, &cancel)
	if cancel["type"] != "cancel_turn" || cancel["turn_id"] != float64(1) {
		t.Fatalf("expected cancel control, got %v", cancel)
	}
}

func TestDialFailureWrapsErrDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewDialer(Config{URL: wsURL(server)}).Dial(context.Background(), transport.Params{SessionID: "s"})
	if !errors.Is(err, transport.ErrDial) {
		t.Fatalf("expected ErrDial, got %v", err)
	}
}

func TestTokenIsSentAsBearer(t *testing.T) {
	authorization := make(chan string, 1)
	server := newTestServer(t, func(t *testing.T, ws *websocket.Conn, r *http.Request) {
		authorization <- r.Header.Get("Authorization")
		ws.ReadMessage()
	})

	conn, err := NewDialer(Config{
		URL:   wsURL(server),
		Token: func(context.Context) (string, error) { return "secret", nil },
	}).Dial(context.Background(), transport.Params{SessionID: "s"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer conn.Close()

	if got := <-authorization; got != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}
