package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

// 100ms of 16kHz mono s16le.
const chunkBytes = 3200

type harness struct {
	controller *SessionController
	clock      *clock.Mock
	capture    *fakeAudioCapture
	audio      *fakeAudioSession
	api        *fakeAPI
	dialer     *fakeDialer
	stream     *fakeStreamingSession
	events     *fakeEventSink
	metrics    *metrics.Metrics
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		clock:  clock.NewMock(),
		audio:  newFakeAudioSession(),
		api:    &fakeAPI{startResp: ports.StartRecordingResponse{SessionID: "s-1", WebSocketURL: "/ws/recording/s-1"}},
		stream: newFakeStreamingSession(),
		events: &fakeEventSink{},
	}
	h.capture = &fakeAudioCapture{sessions: []ports.AudioSession{h.audio}}
	h.dialer = &fakeDialer{sessions: []*fakeStreamingSession{h.stream}}
	h.metrics = metrics.New()

	cfg := Config{
		Audio:       ports.AudioConfig{SampleRate: 16000, Channels: 1},
		Clock:       h.clock,
		StreamGrace: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.controller = NewSessionController(h.capture, h.api, h.dialer, h.events, h.metrics, nil, cfg)
	t.Cleanup(func() { _ = h.controller.Abort() })
	return h
}

func pcmChunk(n int, value byte) []byte {
	return bytes.Repeat([]byte{value}, n)
}

// recordSecond feeds one chunk and advances the clock by one buffer tick.
func (h *harness) recordSecond(t *testing.T, active *activeSession) {
	t.Helper()
	before := active.segmentCount()
	h.audio.feed <- pcmChunk(chunkBytes, 0x10)
	waitFor(t, "buffer tap", func() bool { return active.bufferTap.Len() > 0 })
	h.clock.Add(time.Second)
	waitFor(t, fmt.Sprintf("segment %d", before+1), func() bool { return active.segmentCount() == before+1 })
}

func TestSessionControllerStartStopLocalMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.api.completeResult = domain.TranscriptionResult{ID: "t-1", Transcript: "final words", Summary: "short"}

	if err := h.controller.Start(context.Background(), StartOptions{Title: "Standup", AddToKnowledgeBase: true}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)
	h.recordSecond(t, active)

	h.audio.feed <- pcmChunk(chunkBytes, 0x20)
	waitFor(t, "tail audio", func() bool { return active.bufferTap.Len() > 0 })

	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if result.Fallback {
		t.Fatalf("expected backend result, got fallback")
	}
	if result.Result.Transcript != "final words" || result.TranscriptionID != "t-1" {
		t.Fatalf("unexpected result %+v", result.Result)
	}
	if result.Segments != 2 || result.AudioBytes != 2*chunkBytes {
		t.Fatalf("expected tail flushed into a second segment, got %d segments %d bytes", result.Segments, result.AudioBytes)
	}

	_, _, completes := h.api.snapshot()
	if len(completes) != 1 {
		t.Fatalf("expected one complete call, got %d", len(completes))
	}
	pcm, rate, channels, err := audio.DecodeWAV(completes[0].Audio)
	if err != nil {
		t.Fatalf("uploaded audio is not WAV: %v", err)
	}
	if len(pcm) != 2*chunkBytes || rate != 16000 || channels != 1 {
		t.Fatalf("unexpected upload: %d bytes %dHz %dch", len(pcm), rate, channels)
	}
	if completes[0].Title != "Standup" || !completes[0].AddToKnowledgeBase {
		t.Fatalf("unexpected complete request %+v", completes[0])
	}

	if h.audio.stopCount() == 0 {
		t.Fatalf("expected capture stopped")
	}

	states := h.events.snapshotStates()
	want := []stateEvent{
		{domain.SessionStateRecording, domain.SessionReasonRecordingStarted},
		{domain.SessionStateStopping, domain.SessionReasonFinalizing},
		{domain.SessionStateStopped, domain.SessionReasonTranscriptReady},
	}
	if len(states) != len(want) {
		t.Fatalf("unexpected states %+v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state %d: expected %+v, got %+v", i, want[i], states[i])
		}
	}

	status := h.controller.Status()
	if status.State != domain.SessionStateStopped || status.Active || status.Transcript != "final words" {
		t.Fatalf("unexpected stopped status %+v", status)
	}
	if got := testutil.ToFloat64(h.metrics.ActiveSessions); got != 0 {
		t.Fatalf("expected no active sessions, got %v", got)
	}
}

func TestStopBeforeFirstInterimStillUploadsAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	h.audio.feed <- pcmChunk(chunkBytes, 0x01)
	waitFor(t, "audio", func() bool { return active.bufferTap.Len() > 0 })
	h.clock.Add(3 * time.Second)

	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	_, chunks, completes := h.api.snapshot()
	if chunks != 0 {
		t.Fatalf("expected no interim call before 5s, got %d", chunks)
	}
	if len(completes) != 1 || len(completes[0].Audio) <= 44 {
		t.Fatalf("expected non-empty upload, got %+v", completes)
	}
	if result.Segments == 0 {
		t.Fatalf("expected at least one segment")
	}
}

func TestTwelveSecondsProducesSegmentsAndInterimCalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.api.chunkTexts = []string{" hello ", "world"}
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	for i := 0; i < 12; i++ {
		h.recordSecond(t, active)
	}
	waitFor(t, "two interim calls", func() bool {
		_, chunks, _ := h.api.snapshot()
		return chunks >= 2
	})
	waitFor(t, "interim display", func() bool { return h.events.lastDisplay() == "hello world" })

	if got := active.segmentCount(); got != 12 {
		t.Fatalf("expected 12 segments, got %d", got)
	}
	if got := h.controller.Status().Duration; got != 12*time.Second {
		t.Fatalf("expected 12s duration, got %s", got)
	}
	if got := testutil.ToFloat64(h.metrics.SegmentsBuffered); got != 12 {
		t.Fatalf("expected 12 buffered segments metric, got %v", got)
	}
	if _, _, closeCalls := h.stream.snapshot(); closeCalls != 0 {
		t.Fatalf("local mode must not touch the socket")
	}
}

func TestPauseResumeKeepsDurationAndCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	h.recordSecond(t, active)
	h.recordSecond(t, active)

	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := h.controller.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second pause to be rejected, got %v", err)
	}

	h.audio.feed <- pcmChunk(chunkBytes, 0x7f)
	waitFor(t, "paused read", func() bool { return len(h.audio.feed) == 0 })
	time.Sleep(10 * time.Millisecond)
	if active.bufferTap.Len() != 0 {
		t.Fatalf("audio read while paused must be discarded")
	}

	h.clock.Add(10 * time.Second)
	if got := active.segmentCount(); got != 2 {
		t.Fatalf("no segments expected while paused, got %d", got)
	}
	if got := h.controller.Status().Duration; got != 2*time.Second {
		t.Fatalf("duration should freeze at 2s, got %s", got)
	}

	if err := h.controller.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	h.recordSecond(t, active)

	if got := h.controller.Status().Duration; got != 3*time.Second {
		t.Fatalf("expected 3s after resume, got %s", got)
	}
	if calls := h.capture.callCount(); calls != 1 {
		t.Fatalf("resume must not re-request capture, got %d starts", calls)
	}

	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Duration != 3*time.Second {
		t.Fatalf("expected 3s recorded, got %s", result.Duration)
	}

	states := h.events.snapshotStates()
	if states[1].reason != domain.SessionReasonRecordingPaused || states[2].reason != domain.SessionReasonRecordingResumed {
		t.Fatalf("unexpected pause/resume reasons %+v", states)
	}
}

func TestStopWhilePausedReleasesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)
	h.recordSecond(t, active)

	if err := h.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if _, err := h.controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	_, closeSend, closeCalls := h.stream.snapshot()
	if closeSend != 1 || closeCalls == 0 {
		t.Fatalf("expected stop frame and close, got closeSend=%d close=%d", closeSend, closeCalls)
	}
	if h.audio.stopCount() == 0 {
		t.Fatalf("expected capture released")
	}
}

func TestMeetingModeStreamsSegmentsAndJoinsTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.api.stopID = "t-9"
	h.api.completeResult = domain.TranscriptionResult{ID: "t-9", Transcript: "hello big world"}

	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	if len(h.api.starts) != 1 || h.api.starts[0].MeetingID != "m-1" || h.api.starts[0].SampleRate != 16000 {
		t.Fatalf("unexpected start request %+v", h.api.starts)
	}
	if h.dialer.targets[0].SessionID != "s-1" || h.dialer.targets[0].URL != "/ws/recording/s-1" {
		t.Fatalf("unexpected dial target %+v", h.dialer.targets)
	}

	h.recordSecond(t, active)
	h.recordSecond(t, active)
	waitFor(t, "frames sent", func() bool {
		sent, _, _ := h.stream.snapshot()
		return sent == 2
	})

	for _, chunk := range []domain.TranscriptChunk{
		{Text: "hello", IsFinal: false, Source: domain.TranscriptSourceStream},
		{Text: " big ", IsFinal: false, Source: domain.TranscriptSourceStream},
		{Text: "world", IsFinal: true, Source: domain.TranscriptSourceStream},
	} {
		h.stream.events <- domain.StreamEvent{Type: domain.StreamEventTranscript, Chunk: chunk}
	}
	waitFor(t, "joined display", func() bool { return h.events.lastDisplay() == "hello big world" })

	for i := 0; i < 6; i++ {
		h.recordSecond(t, active)
	}
	if _, chunks, _ := h.api.snapshot(); chunks != 0 {
		t.Fatalf("meeting mode must not call realtime-chunk, got %d calls", chunks)
	}

	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.TranscriptionID != "t-9" || result.SessionID != "s-1" {
		t.Fatalf("unexpected ids %+v", result)
	}
	if result.Interim != "hello big world" {
		t.Fatalf("unexpected interim %q", result.Interim)
	}

	stops, _, completes := h.api.snapshot()
	if stops != 1 || len(completes) != 1 {
		t.Fatalf("expected one stop and one complete, got %d and %d", stops, len(completes))
	}
	_, closeSend, closeCalls := h.stream.snapshot()
	if closeSend != 1 || closeCalls == 0 {
		t.Fatalf("expected socket flushed and closed, got closeSend=%d close=%d", closeSend, closeCalls)
	}
}

func TestFinalizeFailureFallsBackToInterim(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.api.completeErr = errors.New("HTTP 502")

	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)
	h.recordSecond(t, active)

	h.stream.events <- domain.StreamEvent{Type: domain.StreamEventTranscript, Chunk: domain.TranscriptChunk{Text: "live words", IsFinal: true}}
	waitFor(t, "display", func() bool { return h.events.lastDisplay() == "live words" })

	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop should succeed with fallback, got %v", err)
	}
	if !result.Fallback || result.Result.Transcript != "live words" {
		t.Fatalf("expected interim fallback, got %+v", result)
	}
	if !h.events.hasError(domain.ErrorCodeFinalize) {
		t.Fatalf("expected finalize error")
	}
	if last := h.events.lastState(); last.state != domain.SessionStateStopped || last.reason != domain.SessionReasonTranscriptFallback {
		t.Fatalf("unexpected final state %+v", last)
	}
	if status := h.controller.Status(); status.Message == "" || status.Transcript != "live words" {
		t.Fatalf("expected fallback banner in status, got %+v", status)
	}
}

func TestTransportErrorTearsDownToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	h.stream.events <- domain.StreamEvent{Type: domain.StreamEventError, Message: "quota exceeded"}

	waitFor(t, "idle after transport failure", func() bool {
		last := h.events.lastState()
		return last.state == domain.SessionStateIdle && last.reason == domain.SessionReasonTransportFailed
	})

	if !h.events.hasError(domain.ErrorCodeTransport) {
		t.Fatalf("expected transport error")
	}
	if h.audio.stopCount() == 0 {
		t.Fatalf("expected capture released")
	}
	if _, _, closeCalls := h.stream.snapshot(); closeCalls == 0 {
		t.Fatalf("expected socket closed")
	}
	if stops, _, completes := h.api.snapshot(); stops != 1 || len(completes) != 0 {
		t.Fatalf("expected backend stop without finalize, got stops=%d completes=%d", stops, len(completes))
	}
	if status := h.controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle status, got %+v", status)
	}
	if _, err := h.controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after teardown, got %v", err)
	}
}

func TestStreamSendFailureIsTransportError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.stream.sendErr = errors.New("broken pipe")
	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)
	h.recordSecond(t, active)

	waitFor(t, "transport teardown", func() bool {
		return h.events.lastState().reason == domain.SessionReasonTransportFailed
	})
	if h.audio.stopCount() == 0 {
		t.Fatalf("expected capture released")
	}
}

func TestInterimFailureKeepsRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) { cfg.InterimInterval = time.Second })
	h.api.chunkErr = errors.New("HTTP 500")
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	h.recordSecond(t, active)
	waitFor(t, "interim error", func() bool { return h.events.hasError(domain.ErrorCodeInterim) })
	h.recordSecond(t, active)

	if state := h.controller.Status().State; state != domain.SessionStateRecording {
		t.Fatalf("expected recording to continue, got %s", state)
	}
}

func TestSlowInterimNeverBlocksBuffering(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.InterimInterval = time.Second
		cfg.InterimQueue = 1
	})
	h.api.chunkBlock = make(chan struct{})
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	h.recordSecond(t, active)
	waitFor(t, "in-flight interim", func() bool {
		_, chunks, _ := h.api.snapshot()
		return chunks == 1
	})
	h.recordSecond(t, active)
	waitFor(t, "queued interim", func() bool { return len(active.interimQueue) == 1 })
	h.recordSecond(t, active)
	waitFor(t, "dropped interim", func() bool { return testutil.ToFloat64(h.metrics.InterimDropped) == 1 })

	h.recordSecond(t, active)
	if got := active.segmentCount(); got != 4 {
		t.Fatalf("buffering must keep its cadence, got %d segments", got)
	}

	close(h.api.chunkBlock)
	if _, err := h.controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestStopDoesNotWaitForHungInterim(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.InterimInterval = time.Second
		cfg.InterimQueue = 2
	})
	h.api.chunkBlock = make(chan struct{})
	defer close(h.api.chunkBlock)
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	active := currentSession(h.controller)

	h.recordSecond(t, active)
	waitFor(t, "in-flight interim", func() bool {
		_, chunks, _ := h.api.snapshot()
		return chunks == 1
	})
	h.recordSecond(t, active)
	waitFor(t, "queued interim", func() bool { return len(active.interimQueue) == 1 })

	done := make(chan domain.StopResult, 1)
	go func() {
		result, _ := h.controller.Stop(context.Background())
		done <- result
	}()

	var result domain.StopResult
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked behind an in-flight interim request")
	}

	_, chunks, completes := h.api.snapshot()
	if len(completes) != 1 || result.Fallback {
		t.Fatalf("expected final upload to run, got completes=%d result=%+v", len(completes), result)
	}
	if chunks != 1 {
		t.Fatalf("queued interim chunks must be skipped once stopping, got %d calls", chunks)
	}
	if h.events.hasError(domain.ErrorCodeInterim) {
		t.Fatalf("cancelled interim must not surface as an error")
	}
}

func TestSessionControllerStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if _, err := h.controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := h.controller.Pause(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from pause, got %v", err)
	}
	if err := h.controller.Resume(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from resume, got %v", err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Abort(); err != nil {
		t.Fatalf("abort while idle should be a no-op, got %v", err)
	}
	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if err := h.controller.Abort(); err != nil {
		t.Fatalf("second abort failed: %v", err)
	}

	if last := h.events.lastState(); last.reason != domain.SessionReasonRecordingDiscarded {
		t.Fatalf("expected discarded reason, got %s", last.reason)
	}
	if h.audio.stopCount() == 0 {
		t.Fatalf("expected capture released")
	}
	if _, _, closeCalls := h.stream.snapshot(); closeCalls == 0 {
		t.Fatalf("expected socket closed")
	}
	if stops, _, completes := h.api.snapshot(); stops != 1 || len(completes) != 0 {
		t.Fatalf("abort must not finalize, got stops=%d completes=%d", stops, len(completes))
	}
}

func TestResetAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Reset(); err != nil {
		t.Fatalf("reset while idle should be a no-op, got %v", err)
	}
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.controller.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reset while recording must fail, got %v", err)
	}
	if _, err := h.controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, err := h.controller.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stop twice must fail, got %v", err)
	}
	if err := h.controller.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if last := h.events.lastState(); last.state != domain.SessionStateIdle || last.reason != domain.SessionReasonSessionReset {
		t.Fatalf("unexpected state after reset %+v", last)
	}
	if status := h.controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle, got %+v", status)
	}
}

func TestEmptyRecordingFallsBackWithoutUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := h.controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback for empty recording")
	}
	if _, _, completes := h.api.snapshot(); len(completes) != 0 {
		t.Fatalf("empty recording must not be uploaded")
	}
}

func TestStartRestartsActiveSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	second := newFakeAudioSession()
	h.capture.sessions = append(h.capture.sessions, second)

	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := h.controller.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	if h.audio.stopCount() == 0 {
		t.Fatalf("expected first capture released")
	}
	if last := h.events.lastState(); last.reason != domain.SessionReasonRecordingRestarted {
		t.Fatalf("expected restarted reason, got %s", last.reason)
	}
	if got := testutil.ToFloat64(h.metrics.ActiveSessions); got != 1 {
		t.Fatalf("expected one active session, got %v", got)
	}
}

func TestStartCapturePermissionDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.capture.err = fmt.Errorf("%w: permission denied", audio.ErrCaptureUnavailable)

	err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"})
	if !errors.Is(err, audio.ErrCaptureUnavailable) {
		t.Fatalf("expected capture error, got %v", err)
	}
	if !h.events.hasError(domain.ErrorCodePermission) {
		t.Fatalf("expected permission error")
	}
	if last := h.events.lastState(); last.state != domain.SessionStateIdle || last.reason != domain.SessionReasonPermissionDenied {
		t.Fatalf("unexpected state %+v", last)
	}
	if _, _, closeCalls := h.stream.snapshot(); closeCalls == 0 {
		t.Fatalf("socket must be released when capture fails")
	}
	if stops, _, _ := h.api.snapshot(); stops != 1 {
		t.Fatalf("expected best-effort backend stop, got %d", stops)
	}
}

func TestStartDialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dialer.err = errors.New("connection refused")

	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err == nil {
		t.Fatalf("expected dial error")
	}
	if !h.events.hasError(domain.ErrorCodeTransport) {
		t.Fatalf("expected transport error")
	}
	if h.capture.callCount() != 0 {
		t.Fatalf("capture must not start when the socket fails")
	}
	if stops, _, _ := h.api.snapshot(); stops != 1 {
		t.Fatalf("expected backend stop after failed dial, got %d", stops)
	}
}

func TestStartBackendFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.api.startErr = errors.New("HTTP 401")

	if err := h.controller.Start(context.Background(), StartOptions{MeetingID: "m-1"}); err == nil {
		t.Fatalf("expected start error")
	}
	if last := h.events.lastState(); last.reason != domain.SessionReasonTransportFailed {
		t.Fatalf("unexpected reason %s", last.reason)
	}
	if len(h.dialer.targets) != 0 {
		t.Fatalf("dial must not happen without a backend session")
	}
}
