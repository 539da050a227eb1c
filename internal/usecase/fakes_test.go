package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func currentSession(c *SessionController) *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

func (f *fakeAudioCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudioSession hands out whatever the test feeds until it is stopped.
type fakeAudioSession struct {
	feed    chan []byte
	stopped chan struct{}

	mu        sync.Mutex
	stopCalls int
	stopErr   error
	stopOnce  sync.Once
}

func newFakeAudioSession() *fakeAudioSession {
	return &fakeAudioSession{feed: make(chan []byte, 64), stopped: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	select {
	case chunk := <-f.feed:
		return copy(p, chunk), nil
	case <-f.stopped:
		return 0, io.EOF
	}
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	err := f.stopErr
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return err
}

func (f *fakeAudioSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeAPI struct {
	mu sync.Mutex

	startResp ports.StartRecordingResponse
	startErr  error
	starts    []ports.StartRecordingRequest

	stopID    string
	stopErr   error
	stopCalls int

	chunkTexts []string
	chunkErr   error
	chunkBlock chan struct{}
	chunkCalls int

	completeResult domain.TranscriptionResult
	completeErr    error
	completes      []ports.CompleteRequest
}

func (f *fakeAPI) StartRecording(_ context.Context, req ports.StartRecordingRequest) (ports.StartRecordingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return ports.StartRecordingResponse{}, f.startErr
	}
	return f.startResp, nil
}

func (f *fakeAPI) StopRecording(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopID, f.stopErr
}

func (f *fakeAPI) TranscribeChunk(ctx context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	f.chunkCalls++
	call := f.chunkCalls
	block := f.chunkBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		return "", f.chunkErr
	}
	if call <= len(f.chunkTexts) {
		return f.chunkTexts[call-1], nil
	}
	return "", nil
}

func (f *fakeAPI) CompleteRecording(_ context.Context, req ports.CompleteRequest) (domain.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, req)
	if f.completeErr != nil {
		return domain.TranscriptionResult{}, f.completeErr
	}
	return f.completeResult, nil
}

func (f *fakeAPI) snapshot() (stops int, chunks int, completes []ports.CompleteRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls, f.chunkCalls, append([]ports.CompleteRequest(nil), f.completes...)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	targets  []ports.StreamTarget
}

func (f *fakeDialer) Dial(_ context.Context, target ports.StreamTarget) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

// fakeStreamingSession behaves like a backend that hangs up once it sees
// the stop frame.
type fakeStreamingSession struct {
	events chan domain.StreamEvent
	done   chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	waitErr    error
	closeSend  int
	closeCalls int
	endOnce    sync.Once
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.StreamEvent, 16), done: make(chan struct{})}
}

func (f *fakeStreamingSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	f.closeSend++
	f.mu.Unlock()
	f.end()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.StreamEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.end()
	return nil
}

func (f *fakeStreamingSession) end() {
	f.endOnce.Do(func() {
		close(f.events)
		close(f.done)
	})
}

func (f *fakeStreamingSession) snapshot() (sent int, closeSend int, closeCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), f.closeSend, f.closeCalls
}

type fakeEventSink struct {
	mu sync.Mutex

	states   []stateEvent
	displays []string
	chunks   []domain.TranscriptChunk
	progress []time.Duration
	finals   []domain.StopResult
	errors   []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(display string, chunk domain.TranscriptChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displays = append(f.displays, display)
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeEventSink) Progress(elapsed time.Duration, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, elapsed)
}

func (f *fakeEventSink) FinalTranscript(result domain.StopResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, result)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lastDisplay() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.displays) == 0 {
		return ""
	}
	return f.displays[len(f.displays)-1]
}

func (f *fakeEventSink) lastState() stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return stateEvent{}
	}
	return f.states[len(f.states)-1]
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.errors {
		if e.code == code {
			return true
		}
	}
	return false
}
