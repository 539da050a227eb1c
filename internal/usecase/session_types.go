package usecase

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

// StartOptions describe one recording.
type StartOptions struct {
	Title              string
	MeetingID          string
	AddToKnowledgeBase bool
}

func (o StartOptions) meetingMode() bool {
	return o.MeetingID != ""
}

type activeSession struct {
	id     string
	opts   StartOptions
	cancel context.CancelFunc
	audio  ports.AudioSession
	stream ports.StreamingSession

	stateMu     sync.Mutex
	state       domain.SessionState
	accumulated time.Duration
	resumedAt   time.Time
	result      *domain.StopResult

	// closing is claimed by whichever path ends the session first.
	closing      atomic.Bool
	paused       atomic.Bool
	streamBroken atomic.Bool

	bufferTap  *pcmTap
	interimTap *pcmTap

	bufferProducer  *producer
	interimProducer *producer
	segmentsOut     chan []byte
	interimQueue    chan []byte
	interimCancel   context.CancelFunc
	closeSegments   sync.Once
	closeInterim    sync.Once

	segmentsMu sync.Mutex
	segments   []domain.AudioSegment

	reconciler *transcriptReconciler

	pumpDone     chan struct{}
	segmentsDone chan struct{}
	interimDone  chan struct{}
	eventsDone   chan struct{}

	releaseOnce sync.Once
	remoteOnce  sync.Once
	remoteID    string
	remoteErr   error
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves from one of the allowed states to next and keeps the
// duration counter in step: it only runs while recording.
func (s *activeSession) transition(now time.Time, next domain.SessionState, from ...domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	allowed := false
	for _, state := range from {
		if s.state == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	if s.state == domain.SessionStateRecording && next != domain.SessionStateRecording {
		s.accumulated += now.Sub(s.resumedAt)
	}
	if next == domain.SessionStateRecording {
		s.resumedAt = now
	}
	s.state = next
	return true
}

func (s *activeSession) elapsed(now time.Time) time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == domain.SessionStateRecording {
		return s.accumulated + now.Sub(s.resumedAt)
	}
	return s.accumulated
}

func (s *activeSession) setResult(result domain.StopResult) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.result = &result
}

func (s *activeSession) getResult() *domain.StopResult {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.result
}

func (s *activeSession) appendSegment(segment domain.AudioSegment) int {
	s.segmentsMu.Lock()
	defer s.segmentsMu.Unlock()
	segment.Seq = len(s.segments)
	s.segments = append(s.segments, segment)
	return segment.Seq
}

func (s *activeSession) snapshotSegments() []domain.AudioSegment {
	s.segmentsMu.Lock()
	defer s.segmentsMu.Unlock()
	out := make([]domain.AudioSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *activeSession) segmentCount() int {
	s.segmentsMu.Lock()
	defer s.segmentsMu.Unlock()
	return len(s.segments)
}

func (s *activeSession) stopProducers() {
	s.bufferProducer.stop()
	if s.interimProducer != nil {
		s.interimProducer.stop()
	}
}

func (s *activeSession) stopInterim() {
	if s.interimCancel != nil {
		s.interimCancel()
	}
}

func (s *activeSession) closeQueues() {
	s.closeSegments.Do(func() { close(s.segmentsOut) })
	s.closeInterim.Do(func() {
		if s.interimQueue != nil {
			close(s.interimQueue)
		}
	})
}

// pcmTap accumulates PCM between producer ticks. Drains end on a frame
// boundary; a partial frame stays buffered for the next drain.
type pcmTap struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	frame int
}

// newPCMTap returns a tap for s16le audio with the given channel count.
func newPCMTap(channels int) *pcmTap {
	if channels <= 0 {
		channels = 1
	}
	return &pcmTap{frame: 2 * channels}
}

func (t *pcmTap) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
}

// Drain returns the whole frames written since the previous drain.
func (t *pcmTap) Drain() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.buf.Len()
	if t.frame > 1 {
		n -= n % t.frame
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, t.buf.Next(n))
	return out
}

func (t *pcmTap) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}
