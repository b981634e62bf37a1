package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive        = errors.New("session already active")
	ErrNotActive            = errors.New("session not active")
	ErrDevice               = errors.New("microphone unavailable")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrModeSwitchFailed     = errors.New("transport mode switch failed")
	ErrRemoteSessionExpired = errors.New("remote session expired")
	ErrRateLimited          = errors.New("rate limited")
	ErrTimeout              = errors.New("timed out")
	ErrStartTimeout         = fmt.Errorf("session start %w", ErrTimeout)
	ErrReconnectExhausted   = errors.New("reconnect attempts exhausted")
	ErrPlayback             = errors.New("playback failed")
	ErrClosed               = errors.New("engine closed")
)

// IsRetryable reports whether the caller can offer a plain retry for err.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrDevice),
		errors.Is(err, ErrTransportUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrReconnectExhausted),
		errors.Is(err, ErrRemoteSessionExpired),
		errors.Is(err, ErrRateLimited):
		return true
	}
	return false
}
