package events

import "time"

const (
	// KindPlaybackStarted identifies playback start for a turn.
	KindPlaybackStarted Kind = "assistant_playback.started"
	// KindPlaybackChunkScheduled identifies a chunk placed on the output timeline.
	KindPlaybackChunkScheduled Kind = "assistant_playback.chunk_scheduled"
	// KindPlaybackFailed identifies a playback failure.
	KindPlaybackFailed Kind = "assistant_playback.failed"
)

// PlaybackStarted marks the first scheduled chunk of a turn.
type PlaybackStarted struct {
	Base
	TurnID int
}

// NewPlaybackStarted creates a playback started event.
func NewPlaybackStarted(turnID int, opts ...BaseOption) PlaybackStarted {
	return PlaybackStarted{Base: NewBase(KindPlaybackStarted, opts...), TurnID: turnID}
}

// PlaybackChunkScheduled carries the play window of one chunk.
type PlaybackChunkScheduled struct {
	Base
	TurnID   int
	Index    int
	StartAt  time.Time
	Duration time.Duration
}

// NewPlaybackChunkScheduled creates a chunk scheduled event.
func NewPlaybackChunkScheduled(turnID, index int, startAt time.Time, duration time.Duration, opts ...BaseOption) PlaybackChunkScheduled {
	return PlaybackChunkScheduled{
		Base:     NewBase(KindPlaybackChunkScheduled, opts...),
		TurnID:   turnID,
		Index:    index,
		StartAt:  startAt,
		Duration: duration,
	}
}

// PlaybackFailed reports a decode or output failure for a turn.
type PlaybackFailed struct {
	Base
	TurnID int
	Err    error
}

// NewPlaybackFailed creates a playback failed event.
func NewPlaybackFailed(turnID int, err error, opts ...BaseOption) PlaybackFailed {
	return PlaybackFailed{Base: NewBase(KindPlaybackFailed, opts...), TurnID: turnID, Err: err}
}
