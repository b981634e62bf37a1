package main

import (
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/ema-avatar/core/events"
)

// EventAdapter forwards engine events to the terminal UI.
type EventAdapter struct {
	program atomic.Pointer[tea.Program]
}

func NewEventAdapter() *EventAdapter {
	return &EventAdapter{}
}

// Attach sets the program events are delivered to. Events observed before
// Attach are dropped.
func (a *EventAdapter) Attach(program *tea.Program) {
	a.program.Store(program)
}

// HandleEvent is the engine observer.
func (a *EventAdapter) HandleEvent(event events.Event) {
	program := a.program.Load()
	if program == nil {
		return
	}
	program.Send(eventMsg{event: event})
}

// eventMsg carries one engine event into the model.
type eventMsg struct {
	event events.Event
}

type lineStyle int

const (
	styleInfo lineStyle = iota
	styleUser
	styleAvatar
	styleWarn
	styleError
)

// logLine is one rendered row of the conversation log.
type logLine struct {
	style lineStyle
	text  string
}

// describeEvent returns the log line for event, or false for events that are
// too chatty to show.
func describeEvent(event events.Event) (logLine, bool) { //nolint:gocyclo // switch on event types
	switch e := event.(type) {
	case events.StateChanged:
		text := fmt.Sprintf("state: %s -> %s", e.From, e.To)
		if e.Reason != "" {
			text += " (" + e.Reason + ")"
		}
		return logLine{style: styleInfo, text: text}, true
	case events.SessionStarted:
		return logLine{style: styleInfo, text: fmt.Sprintf("session %s started with %s in %s mode", e.SessionID, e.AvatarID, e.Mode)}, true
	case events.StartTimedOut:
		return logLine{style: styleError, text: "session did not start in time"}, true
	case events.ModeSwitched:
		return logLine{style: styleInfo, text: fmt.Sprintf("switched from %s to %s", e.From, e.To)}, true
	case events.ModeSwitchFailed:
		return logLine{style: styleWarn, text: fmt.Sprintf("could not switch to %s, staying in %s: %v", e.Requested, e.Restored, e.Err)}, true
	case events.SessionError:
		text := fmt.Sprintf("error: %v", e.Err)
		if e.Retryable {
			text += " (ctrl+r to retry)"
		}
		return logLine{style: styleError, text: text}, true
	case events.TurnStarted:
		if e.Text == "" {
			return logLine{}, false
		}
		return logLine{style: styleUser, text: "you: " + e.Text}, true
	case events.TurnEnded:
		if e.Outcome == "completed" {
			return logLine{}, false
		}
		return logLine{style: styleWarn, text: fmt.Sprintf("turn %d ended: %s", e.TurnID, e.Outcome)}, true
	case events.TurnCancelled:
		return logLine{style: styleInfo, text: fmt.Sprintf("turn %d cancelled (%s)", e.TurnID, e.Reason)}, true
	case events.PlaybackStarted:
		return logLine{style: styleAvatar, text: fmt.Sprintf("avatar speaking (turn %d)", e.TurnID)}, true
	case events.PlaybackFailed:
		return logLine{style: styleError, text: fmt.Sprintf("playback of turn %d failed: %v", e.TurnID, e.Err)}, true
	case events.UserTranscriptFinal:
		return logLine{style: styleUser, text: "you said: " + e.Text}, true
	case events.BargeIn:
		return logLine{style: styleWarn, text: fmt.Sprintf("interrupted turn %d (%s)", e.TurnID, e.Reason)}, true
	case events.EchoSuppressed:
		return logLine{style: styleInfo, text: fmt.Sprintf("ignored echo %q", e.Transcript)}, true
	case events.ReconnectScheduled:
		return logLine{style: styleWarn, text: fmt.Sprintf("reconnecting in %s (attempt %d)", e.Delay, e.Attempt)}, true
	case events.ReconnectRestored:
		return logLine{style: styleInfo, text: fmt.Sprintf("connection restored after %d attempts", e.Attempts)}, true
	case events.ReconnectExhausted:
		return logLine{style: styleError, text: fmt.Sprintf("gave up reconnecting after %d attempts", e.Attempts)}, true
	case events.MicStatusChanged:
		return logLine{style: styleInfo, text: fmt.Sprintf("microphone %s", e.Status)}, true
	default:
		return logLine{}, false
	}
}
