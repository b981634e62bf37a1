// Package remote talks to the REST collaborators around a session: session
// registration, avatar configuration, greeting text and the one-shot speech
// synthesis fallback.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrUnauthorized = errors.New("remote session expired")
	ErrRateLimited  = errors.New("rate limited")
	ErrNoBaseURL    = errors.New("no base url configured")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// TokenSource hands out bearer tokens. Refresh is called once after a 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error)   { return string(s), nil }
func (s staticToken) Refresh(context.Context) (string, error) { return string(s), nil }

// StaticToken is a [TokenSource] that never changes.
func StaticToken(token string) TokenSource { return staticToken(token) }

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTokenSource(tokens TokenSource) ClientOption {
	return func(c *Client) { c.tokens = tokens }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AvatarID  string    `json:"avatar_id"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterSessionRequest struct {
	UserID   string `json:"user_id"`
	AvatarID string `json:"avatar_id"`
	Mode     string `json:"mode"`
}

type AvatarConfig struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Voice          string `json:"voice"`
	Language       string `json:"language"`
	VideoAvailable bool   `json:"video_available"`
}

// Speech is synthesized linear16 audio.
type Speech struct {
	PCM        []byte `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

func (c *Client) RegisterSession(ctx context.Context, request RegisterSessionRequest) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/sessions", request, &session)
	return session, err
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) AvatarConfig(ctx context.Context, avatarID string) (AvatarConfig, error) {
	var config AvatarConfig
	err := c.do(ctx, http.MethodGet, "/avatars/"+url.PathEscape(avatarID), nil, &config)
	return config, err
}

func (c *Client) Greeting(ctx context.Context, avatarID string) (string, error) {
	var greeting struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, http.MethodGet, "/avatars/"+url.PathEscape(avatarID)+"/greeting", nil, &greeting)
	return greeting.Text, err
}

func (c *Client) SynthesizeSpeech(ctx context.Context, avatarID, text string) (Speech, error) {
	request := struct {
		AvatarID string `json:"avatar_id"`
		Text     string `json:"text"`
	}{AvatarID: avatarID, Text: text}

	var speech Speech
	err := c.do(ctx, http.MethodPost, "/tts", request, &speech)
	return speech, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "remote "+method+" "+path)
	defer span.End()

	err := c.doWithRetry(ctx, method, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token := ""
	if c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
	}

	err := c.send(ctx, method, path, payload, token, out)
	if !errors.Is(err, ErrUnauthorized) || c.tokens == nil {
		return err
	}

	logger.Info("refreshing token after unauthorized response", "path", path)
	token, refreshErr := c.tokens.Refresh(ctx)
	if refreshErr != nil {
		return errors.Join(err, fmt.Errorf("failed to refresh token: %w", refreshErr))
	}
	return c.send(ctx, method, path, payload, token, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errorBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		return statusErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// RetryAfter extracts the server-suggested wait from err, if any.
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}
