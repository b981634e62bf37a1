// Package events defines the typed session event contract consumed by the
// single observer at the UI boundary.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - user_input.*
//   - turn_state.*
//   - assistant_playback.*
//   - interruption.*
//   - connection.*
//
// session events
//
//   - StateChanged (session.state_changed): the session state machine moved
//     from one state to another.
//   - SessionStarted (session.started): the transport confirmed the session.
//   - StartTimedOut (session.start_timed_out): the start ceiling elapsed
//     before the session was confirmed.
//   - ModeSwitched (session.mode_switched): output modality changed.
//   - ModeSwitchFailed (session.mode_switch_failed): the new modality could
//     not start and the previous one was restored.
//   - SessionError (session.error): an error the caller should surface.
//
// user_input events
//
//   - UserTranscriptPartial (user_input.transcript_partial): mutable interim
//     transcript snapshot.
//   - UserTranscriptFinal (user_input.transcript_final): terminal transcript
//     for the utterance.
//   - MicStatusChanged (user_input.mic_status_changed): microphone moved
//     between off, listening, muted and released.
//
// turn_state events
//
//   - TurnStarted (turn_state.started): a new avatar turn became current.
//   - TurnEnded (turn_state.ended): the turn finished draining, with its
//     outcome.
//   - TurnCancelled (turn_state.cancelled): the turn was hard-stopped.
//
// assistant_playback events
//
//   - PlaybackStarted (assistant_playback.started): the first chunk of a turn
//     was scheduled.
//   - PlaybackChunkScheduled (assistant_playback.chunk_scheduled): a chunk was
//     placed on the output timeline.
//   - PlaybackFailed (assistant_playback.failed): decoding or output failed;
//     the pipeline resets for the next turn.
//
// interruption events
//
//   - BargeIn (interruption.barge_in): user speech cut the avatar off.
//   - EchoSuppressed (interruption.echo_suppressed): a transcript was
//     recognised as the avatar's own voice.
//
// connection events
//
//   - ReconnectScheduled (connection.reconnect_scheduled): an attempt was
//     scheduled after an unplanned drop.
//   - ReconnectExhausted (connection.reconnect_exhausted): automatic retries
//     stopped; a manual retry is required.
//   - ReconnectRestored (connection.reconnect_restored): the connection is
//     back.
package events
