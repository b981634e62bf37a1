package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/remote"
	"github.com/koscakluka/ema-avatar/core/transport"
)

func listeningCount(log *eventLog) int {
	count := 0
	for _, event := range log.ofKind(events.KindMicStatusChanged) {
		if event.(events.MicStatusChanged).Status == events.MicStatusListening {
			count++
		}
	}
	return count
}

func waitForUnits(t *testing.T, output *fakeOutput, count int) ([]playback.Unit, []*fakeHandle) {
	t.Helper()
	waitForCondition(t, 2*time.Second, func() bool { return output.count() >= count }, "scheduled audio")
	return output.played()
}

func TestGreetingPlaysInOrderAndBargeInStopsIt(t *testing.T) {
	config := testConfig()
	config.Greeting = GreetingRemote
	h := newHarness(t, config)
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	chunk := 500 * time.Millisecond
	for _, index := range []int{2, 0, 1} {
		conn.push(transport.AudioChunk{TurnID: 0, Index: index, PCM: pcmFor(chunk)})
	}

	units, handles := waitForUnits(t, h.output, 3)
	for i, unit := range units {
		if unit.TurnID != 0 || unit.Index != i {
			t.Fatalf("expected unit %d of turn 0 at position %d, got turn %d index %d", i, i, unit.TurnID, unit.Index)
		}
		if unit.Duration != chunk {
			t.Fatalf("expected %s units, got %s", chunk, unit.Duration)
		}
		if i > 0 && !unit.StartAt.Equal(units[i-1].EndAt()) {
			t.Fatalf("expected unit %d to start at %s, got %s", i, units[i-1].EndAt(), unit.StartAt)
		}
	}
	h.log.waitFor(t, events.KindPlaybackStarted)

	time.Sleep(time.Until(units[1].StartAt.Add(chunk * 2 / 5)))
	listeningBefore := listeningCount(h.log)
	spokeAt := time.Now()
	conn.push(transport.TranscriptPartial{Text: "stop"})

	bargeIn := h.log.waitFor(t, events.KindBargeIn).(events.BargeIn)
	if elapsed := time.Since(spokeAt); elapsed > config.BargeInDebounce+250*time.Millisecond {
		t.Fatalf("expected barge-in within the debounce, took %s", elapsed)
	}
	if bargeIn.TurnID != 0 {
		t.Fatalf("expected barge-in on turn 0, got %d", bargeIn.TurnID)
	}
	if handles[0].stopped.Load() {
		t.Fatalf("expected finished unit 0 to be left alone")
	}
	if !handles[1].stopped.Load() || !handles[2].stopped.Load() {
		t.Fatalf("expected units 1 and 2 to be stopped")
	}
	if cancels := conn.sentControls(transport.ControlCancelTurn); len(cancels) != 1 || cancels[0].TurnID != 0 {
		t.Fatalf("expected turn 0 to be cancelled remotely, got %+v", cancels)
	}
	if cancelled := h.log.waitFor(t, events.KindTurnCancelled).(events.TurnCancelled); cancelled.TurnID != 0 || cancelled.Reason != "barge_in" {
		t.Fatalf("unexpected cancellation %+v", cancelled)
	}

	waitForCondition(t, time.Second, func() bool { return listeningCount(h.log) > listeningBefore }, "microphone listening again")

	conn.push(transport.AudioChunk{TurnID: 0, Index: 3, PCM: pcmFor(chunk)})
	time.Sleep(50 * time.Millisecond)
	if count := h.output.count(); count != 3 {
		t.Fatalf("expected late chunk of cancelled turn to be dropped, got %d units", count)
	}
	if len(h.log.ofKind(events.KindTurnEnded)) != 0 {
		t.Fatalf("expected cancelled turn to never report an end")
	}
}

func TestTurnCompletesAfterLastChunkDrains(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	turnID, err := h.engine.SendMessage(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("expected message to be sent, got %v", err)
	}
	if texts := conn.sentTexts(); len(texts) != 1 || texts[0].TurnID != turnID || texts[0].Text != "hello" {
		t.Fatalf("expected message for turn %d, got %+v", turnID, texts)
	}

	conn.push(transport.TurnStart{TurnID: turnID, Text: "Hi there"})
	conn.push(transport.AudioChunk{TurnID: turnID, Index: 0, PCM: pcmFor(100 * time.Millisecond)})
	conn.push(transport.AudioChunk{TurnID: turnID, Index: 1, PCM: pcmFor(100 * time.Millisecond)})
	conn.push(transport.TurnEnd{TurnID: turnID})

	started := time.Now()
	ended := h.log.waitFor(t, events.KindTurnEnded).(events.TurnEnded)
	if ended.TurnID != turnID || ended.Outcome != playback.OutcomeCompleted.String() || ended.Played != 2 {
		t.Fatalf("unexpected turn end %+v", ended)
	}
	if elapsed := time.Since(started); elapsed < 150*time.Millisecond {
		t.Fatalf("expected turn to end after its audio drained, ended after %s", elapsed)
	}
	if snapshot := h.engine.Snapshot(); snapshot.Speaking {
		t.Fatalf("expected avatar to stop speaking after the turn ended")
	}
}

func TestStaleChunksAreDropped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	first, err := h.engine.SendMessage(context.Background(), "first", nil)
	if err != nil {
		t.Fatalf("expected message to be sent, got %v", err)
	}
	second, err := h.engine.SendMessage(context.Background(), "second", nil)
	if err != nil {
		t.Fatalf("expected message to be sent, got %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected consecutive turn ids, got %d and %d", first, second)
	}

	conn.push(transport.AudioChunk{TurnID: first, Index: 0, PCM: pcmFor(50 * time.Millisecond)})
	conn.push(transport.AudioChunk{TurnID: second, Index: 0, PCM: pcmFor(50 * time.Millisecond)})

	waitForUnits(t, h.output, 1)
	time.Sleep(30 * time.Millisecond)
	units, _ := h.output.played()
	if len(units) != 1 || units[0].TurnID != second {
		t.Fatalf("expected only turn %d to play, got %+v", second, units)
	}
	if cancels := conn.sentControls(transport.ControlCancelTurn); len(cancels) != 1 || cancels[0].TurnID != first {
		t.Fatalf("expected turn %d to be cancelled by the new message, got %+v", first, cancels)
	}
}

func TestChunkOfNewerTurnStartsIt(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	conn.push(transport.AudioChunk{TurnID: 4, Index: 0, PCM: pcmFor(50 * time.Millisecond)})

	started := h.log.waitFor(t, events.KindTurnStarted).(events.TurnStarted)
	if started.TurnID != 4 {
		t.Fatalf("expected turn 4 to start, got %d", started.TurnID)
	}
	waitForUnits(t, h.output, 1)

	turnID, err := h.engine.SendMessage(context.Background(), "next", nil)
	if err != nil {
		t.Fatalf("expected message to be sent, got %v", err)
	}
	if turnID != 5 {
		t.Fatalf("expected the counter to follow the remote turn, got %d", turnID)
	}
}

func TestEchoIsSuppressedButAllowListedPhraseBargesIn(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	conn.push(transport.TurnStart{TurnID: 1, Text: "The sky is blue"})
	conn.push(transport.AudioChunk{TurnID: 1, Index: 0, PCM: pcmFor(time.Second)})
	h.log.waitFor(t, events.KindPlaybackStarted)

	conn.push(transport.TranscriptPartial{Text: "the sky is blue"})
	echo := h.log.waitFor(t, events.KindEchoSuppressed).(events.EchoSuppressed)
	if echo.Transcript != "the sky is blue" {
		t.Fatalf("unexpected echo transcript %q", echo.Transcript)
	}
	time.Sleep(200 * time.Millisecond)
	if len(h.log.ofKind(events.KindBargeIn)) != 0 {
		t.Fatalf("expected echo not to interrupt the avatar")
	}

	conn.push(transport.TranscriptPartial{Text: "actually wait"})
	bargeIn := h.log.waitFor(t, events.KindBargeIn).(events.BargeIn)
	if bargeIn.TurnID != 1 || bargeIn.Transcript != "actually wait" {
		t.Fatalf("unexpected barge-in %+v", bargeIn)
	}
}

func TestFinalTranscriptWhilePlayingBargesInImmediately(t *testing.T) {
	config := testConfig()
	config.BargeInDebounce = time.Second
	h := newHarness(t, config)
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	conn.push(transport.AudioChunk{TurnID: 1, Index: 0, PCM: pcmFor(time.Second)})
	h.log.waitFor(t, events.KindPlaybackStarted)

	spokeAt := time.Now()
	conn.push(transport.TranscriptFinal{Text: "tell me something else"})
	bargeIn := h.log.waitFor(t, events.KindBargeIn).(events.BargeIn)
	if bargeIn.Reason != "final_transcript" {
		t.Fatalf("expected final transcript barge-in, got %s", bargeIn.Reason)
	}
	if elapsed := time.Since(spokeAt); elapsed > 500*time.Millisecond {
		t.Fatalf("expected barge-in without waiting for the debounce, took %s", elapsed)
	}
}

func TestLocalGreetingPlaysSynthesizedSpeech(t *testing.T) {
	client := &fakeRemote{
		greeting: "Hello there",
		speech:   remote.Speech{PCM: pcmFor(100 * time.Millisecond), SampleRate: audio.GetDefaultEncodingInfo().SampleRate},
	}
	config := testConfig()
	config.Greeting = GreetingLocal
	h := newHarness(t, config, WithRemote(client))
	h.start(t, StartOptions{})

	units, _ := waitForUnits(t, h.output, 1)
	if units[0].TurnID != greetingTurnID {
		t.Fatalf("expected greeting turn to play, got turn %d", units[0].TurnID)
	}

	ended := h.log.waitFor(t, events.KindTurnEnded).(events.TurnEnded)
	if ended.TurnID != greetingTurnID || ended.Outcome != playback.OutcomeCompleted.String() {
		t.Fatalf("unexpected greeting end %+v", ended)
	}
	if started := h.log.ofKind(events.KindTurnStarted); len(started) == 0 || started[0].(events.TurnStarted).Text != "Hello there" {
		t.Fatalf("expected greeting turn to carry its text, got %+v", started)
	}
	if greets := h.dialer.last().sentControls(transport.ControlGreet); len(greets) != 0 {
		t.Fatalf("expected no remote greeting request, got %+v", greets)
	}

	h.engine.End(context.Background())
	if ended := client.endedSessions(); len(ended) != 1 || ended[0] != "remote-1" {
		t.Fatalf("expected remote session to be ended, got %v", ended)
	}
}

func TestTranscriptsAreForwardedToObserver(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t, StartOptions{})
	conn := h.dialer.last()

	conn.push(transport.TranscriptPartial{Text: "how are"})
	conn.push(transport.TranscriptFinal{Text: "how are you"})

	final := h.log.waitFor(t, events.KindUserTranscriptFinal).(events.UserTranscriptFinal)
	if final.Text != "how are you" {
		t.Fatalf("expected final transcript, got %q", final.Text)
	}
	partials := h.log.ofKind(events.KindUserTranscriptPartial)
	if len(partials) != 1 || partials[0].(events.UserTranscriptPartial).Text != "how are" {
		t.Fatalf("expected one partial transcript, got %+v", partials)
	}
	if len(h.log.ofKind(events.KindBargeIn)) != 0 {
		t.Fatalf("expected no barge-in while the avatar is silent")
	}
}
