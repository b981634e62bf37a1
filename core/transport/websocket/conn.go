// Package websocket binds the session transport contract to a websocket
// connection: JSON text messages for control events and "AVTR" framed binary
// messages for avatar audio.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-avatar/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxMessageSize    = 4 * 1024 * 1024
	DefaultEventBuffer       = 256
)

// Config configures the connection. Zero fields take the defaults above.
type Config struct {
	URL    string
	Header http.Header

	DialTimeout       time.Duration
	WriteWait         time.Duration
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
	EventBuffer       int

	// Token, when set, is called before every dial and sent as a bearer
	// token.
	Token func(ctx context.Context) (string, error)
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}

// Dialer opens websocket transports.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	cfg.defaults()
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context, params transport.Params) (transport.Transport, error) {
	ctx, span := tracer.Start(ctx, "dial transport")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", params.SessionID),
		attribute.String("session.mode", string(params.Mode)),
		attribute.Bool("session.resume", params.Resume),
	)

	endpoint, err := d.endpoint(params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	header := d.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if d.cfg.Token != nil {
		token, err := d.cfg.Token(ctx)
		if err != nil {
			err = fmt.Errorf("%w: failed to get token: %w", transport.ErrDial, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.DialTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		}
		err = fmt.Errorf("%w: %w", transport.ErrDial, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ws.SetReadLimit(d.cfg.MaxMessageSize)

	conn := newConn(ws, d.cfg)
	if err := conn.SendControl(transport.Control{Type: transport.ControlStart, Params: &params}); err != nil {
		_ = ws.Close()
		err = fmt.Errorf("%w: failed to send start: %w", transport.ErrDial, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go conn.readLoop()
	go conn.heartbeatLoop()

	logger.Info("transport connected", "session_id", params.SessionID, "mode", params.Mode)
	return conn, nil
}

func (d *Dialer) endpoint(params transport.Params) (string, error) {
	endpoint, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %w", transport.ErrDial, err)
	}

	query := endpoint.Query()
	query.Set("session_id", params.SessionID)
	if params.UserID != "" {
		query.Set("user_id", params.UserID)
	}
	if params.AvatarID != "" {
		query.Set("avatar_id", params.AvatarID)
	}
	query.Set("mode", string(params.Mode))
	query.Set("resume", strconv.FormatBool(params.Resume))
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// Conn is one open websocket transport.
type Conn struct {
	cfg Config
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}

	events chan transport.Event
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	c := &Conn{
		cfg:     cfg,
		ws:      ws,
		closeCh: make(chan struct{}),
		events:  make(chan transport.Event, cfg.EventBuffer),
	}

	if cfg.HeartbeatInterval > 0 {
		readWait := 2*cfg.HeartbeatInterval + cfg.WriteWait
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(readWait))
		})
	}
	return c
}

func (c *Conn) Events() <-chan transport.Event { return c.events }

func (c *Conn) SendAudioFrame(frame []byte) error {
	return c.write(websocket.BinaryMessage, frame)
}

func (c *Conn) SendText(message transport.TextMessage) error {
	data, err := transport.EncodeText(message)
	if err != nil {
		return fmt.Errorf("failed to encode text message: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) SendControl(control transport.Control) error {
	data, err := transport.EncodeControl(control)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	if c.isClosed() {
		return transport.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a close frame and shuts the connection down. The resulting
// [transport.Disconnected] event is marked intentional.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMessage)
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.disconnected(err)
			return
		}

		var event transport.Event
		switch messageType {
		case websocket.BinaryMessage:
			chunk, err := transport.DecodeChunk(data)
			if err != nil {
				logger.Warn("dropped malformed audio frame", "error", err)
				continue
			}
			event = chunk
		case websocket.TextMessage:
			event, err = transport.DecodeEvent(data)
			if err != nil {
				logger.Warn("dropped malformed control event", "error", err)
				continue
			}
		default:
			continue
		}

		select {
		case c.events <- event:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) disconnected(err error) {
	intentional := c.isClosed()
	if !intentional {
		_ = c.ws.Close()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Info("transport closed by remote", "error", err)
		} else {
			logger.Warn("transport dropped", "error", err)
		}
	}

	event := transport.Disconnected{Intentional: intentional}
	if !intentional && !errors.Is(err, transport.ErrClosed) {
		event.Err = err
	}

	select {
	case c.events <- event:
	default:
		if !intentional {
			// The buffer is full; block until the consumer catches up or
			// closes the transport.
			select {
			case c.events <- event:
			case <-c.closeCh:
			}
		}
	}
}

func (c *Conn) heartbeatLoop() {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				logger.Warn("heartbeat failed", "error", err)
				_ = c.ws.Close()
				return
			}
		}
	}
}
