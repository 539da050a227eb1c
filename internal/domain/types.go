package domain

import "time"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateRecording SessionState = "recording"
	SessionStatePaused    SessionState = "paused"
	SessionStateStopping  SessionState = "stopping"
	SessionStateStopped   SessionState = "stopped"
	SessionStateError     SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold            SessionStateReason = "mic_cold"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonRecordingRestarted SessionStateReason = "recording_restarted"
	SessionReasonRecordingPaused    SessionStateReason = "recording_paused"
	SessionReasonRecordingResumed   SessionStateReason = "recording_resumed"
	SessionReasonFinalizing         SessionStateReason = "finalizing"
	SessionReasonTranscriptReady    SessionStateReason = "transcript_ready"
	SessionReasonTranscriptFallback SessionStateReason = "transcript_fallback"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonPermissionDenied   SessionStateReason = "permission_denied"
	SessionReasonTransportFailed    SessionStateReason = "transport_failed"
	SessionReasonSessionReset       SessionStateReason = "session_reset"
)

// ErrorCode identifies non-fatal and fatal session errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeAudioStop   ErrorCode = "audio_stop"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeTransport   ErrorCode = "transport"
	ErrorCodeInterim     ErrorCode = "interim"
	ErrorCodeFinalize    ErrorCode = "finalize"
	ErrorCodeBackend     ErrorCode = "backend"
)

// TranscriptSource tells where an interim fragment came from.
type TranscriptSource string

const (
	TranscriptSourceStream  TranscriptSource = "stream"
	TranscriptSourceInterim TranscriptSource = "interim"
)

// TranscriptChunk is one provisional fragment received while recording.
type TranscriptChunk struct {
	Text       string           `json:"text"`
	IsFinal    bool             `json:"is_final"`
	Confidence float64          `json:"confidence"`
	Timestamp  time.Time        `json:"timestamp"`
	Source     TranscriptSource `json:"source"`
}

// StreamEventType is the `type` discriminator of inbound socket envelopes.
type StreamEventType string

const (
	StreamEventConnected  StreamEventType = "connected"
	StreamEventTranscript StreamEventType = "transcript"
	StreamEventError      StreamEventType = "error"
)

// StreamEvent is a decoded server-to-client socket message.
type StreamEvent struct {
	Type      StreamEventType
	SessionID string
	Chunk     TranscriptChunk
	Message   string
}

// AudioSegment is one time-boxed slice of captured PCM.
type AudioSegment struct {
	Seq        int
	Data       []byte
	Duration   time.Duration
	Level      float64
	CapturedAt time.Time
}

// TranscriptionResult is the authoritative record returned by the backend.
type TranscriptionResult struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Transcript           string    `json:"transcription_text"`
	Summary              string    `json:"summary"`
	AddedToKnowledgeBase bool      `json:"added_to_knowledge_base"`
	Duration             float64   `json:"duration"`
	CreatedAt            time.Time `json:"created_at"`
}

// StopResult is returned once recording is stopped and finalized.
type StopResult struct {
	SessionID       string              `json:"sessionId,omitempty"`
	TranscriptionID string              `json:"transcriptionId,omitempty"`
	Interim         string              `json:"interim"`
	Result          TranscriptionResult `json:"result"`
	Fallback        bool                `json:"fallback"`
	Segments        int                 `json:"segments"`
	AudioBytes      int                 `json:"audioBytes"`
	Duration        time.Duration       `json:"duration"`
	Audio           []byte              `json:"-"`
}

// Status summarizes the current runtime status.
type Status struct {
	State      SessionState  `json:"state"`
	Active     bool          `json:"active"`
	SessionID  string        `json:"sessionId,omitempty"`
	Duration   time.Duration `json:"duration"`
	Transcript string        `json:"transcript,omitempty"`
	Message    string        `json:"message,omitempty"`
}
