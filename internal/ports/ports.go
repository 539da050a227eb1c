package ports

import (
	"context"
	"io"
	"time"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	EchoCancelDevice string
	EchoCancellation bool
	NoiseSuppression bool
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StartRecordingRequest asks the backend to allocate a streaming session.
type StartRecordingRequest struct {
	MeetingID  string
	SampleRate int
	Channels   int
}

// StartRecordingResponse carries the allocated session handle.
type StartRecordingResponse struct {
	SessionID    string
	WebSocketURL string
}

// CompleteRequest is the single upload made when a recording ends.
type CompleteRequest struct {
	Audio              []byte
	Title              string
	AddToKnowledgeBase bool
}

// RecordingAPI is the subset of the backend REST surface a session needs.
type RecordingAPI interface {
	StartRecording(ctx context.Context, req StartRecordingRequest) (StartRecordingResponse, error)
	StopRecording(ctx context.Context, meetingID string) (string, error)
	TranscribeChunk(ctx context.Context, audio []byte) (string, error)
	CompleteRecording(ctx context.Context, req CompleteRequest) (domain.TranscriptionResult, error)
}

// StreamTarget identifies the socket a session streams to.
type StreamTarget struct {
	SessionID string
	URL       string
}

// StreamingSession is an open duplex channel to the backend.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.StreamEvent
	Wait() error
	Close() error
}

// StreamDialer opens streaming sessions.
type StreamDialer interface {
	Dial(ctx context.Context, target StreamTarget) (StreamingSession, error)
}

// EventSink receives session state and transcript updates for display.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(display string, chunk domain.TranscriptChunk)
	Progress(elapsed time.Duration, level float64)
	FinalTranscript(result domain.StopResult)
	SessionError(code domain.ErrorCode, detail string)
}
