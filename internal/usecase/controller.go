package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrInvalidTransition = errors.New("operation not allowed in the current session state")
)

const (
	defaultBufferInterval  = time.Second
	defaultInterimInterval = 5 * time.Second
	defaultInterimQueue    = 2
	defaultStreamGrace     = 4 * time.Second
	remoteStopTimeout      = 10 * time.Second
)

// Config controls recording cadence and capture.
type Config struct {
	Audio           ports.AudioConfig
	BufferInterval  time.Duration
	InterimInterval time.Duration
	InterimQueue    int
	StreamGrace     time.Duration
	ChunkSize       int
	Clock           clock.Clock
}

// SessionController orchestrates recording, live captions and finalization.
type SessionController struct {
	audio     ports.AudioCapture
	api       ports.RecordingAPI
	dialer    ports.StreamDialer
	events    ports.EventSink
	finalizer transcriptFinalizer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	clock     clock.Clock
	cfg       Config

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(
	capture ports.AudioCapture,
	api ports.RecordingAPI,
	dialer ports.StreamDialer,
	events ports.EventSink,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.BufferInterval <= 0 {
		cfg.BufferInterval = defaultBufferInterval
	}
	if cfg.InterimInterval <= 0 {
		cfg.InterimInterval = defaultInterimInterval
	}
	if cfg.InterimQueue <= 0 {
		cfg.InterimQueue = defaultInterimQueue
	}
	if cfg.StreamGrace <= 0 {
		cfg.StreamGrace = defaultStreamGrace
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SessionController{
		audio:     capture,
		api:       api,
		dialer:    dialer,
		events:    events,
		finalizer: newTranscriptFinalizer(api, events, m, logger, cfg.Clock),
		metrics:   m,
		logger:    logger,
		clock:     cfg.Clock,
		cfg:       cfg,
	}
}

// Start begins a new recording. An unfinished session is torn down first.
func (c *SessionController) Start(ctx context.Context, opts StartOptions) error {
	var previous *activeSession

	c.mu.Lock()
	if c.current != nil {
		if c.current.getState() == domain.SessionStateStopping {
			c.mu.Unlock()
			return ErrInvalidTransition
		}
		previous = c.current
		c.current = nil
	}
	c.mu.Unlock()

	restarted := false
	if previous != nil && previous.getState() != domain.SessionStateStopped {
		restarted = true
		previous.closing.Store(true)
		c.release(previous)
		c.stopRemote(context.Background(), previous)
		previous.setState(domain.SessionStateIdle)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	var (
		stream    ports.StreamingSession
		sessionID string
	)
	if opts.meetingMode() {
		resp, err := c.api.StartRecording(sessionCtx, ports.StartRecordingRequest{
			MeetingID:  opts.MeetingID,
			SampleRate: c.cfg.Audio.SampleRate,
			Channels:   c.cfg.Audio.Channels,
		})
		if err != nil {
			cancel()
			c.startFailed(domain.ErrorCodeTransport, domain.SessionReasonTransportFailed, fmt.Sprintf("failed to start backend session: %v", err))
			return err
		}
		sessionID = resp.SessionID

		stream, err = c.dialer.Dial(sessionCtx, ports.StreamTarget{SessionID: resp.SessionID, URL: resp.WebSocketURL})
		if err != nil {
			cancel()
			c.stopMeeting(opts.MeetingID)
			c.startFailed(domain.ErrorCodeTransport, domain.SessionReasonTransportFailed, fmt.Sprintf("failed to open streaming connection: %v", err))
			return err
		}
	}

	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		if stream != nil {
			_ = stream.Close()
			c.stopMeeting(opts.MeetingID)
		}
		cancel()
		if errors.Is(err, audio.ErrCaptureUnavailable) {
			c.startFailed(domain.ErrorCodePermission, domain.SessionReasonPermissionDenied, err.Error())
		} else {
			c.startFailed(domain.ErrorCodeStartup, domain.SessionReasonMicCold, err.Error())
		}
		return err
	}

	active := &activeSession{
		id:           sessionID,
		opts:         opts,
		cancel:       cancel,
		audio:        audioSession,
		stream:       stream,
		state:        domain.SessionStateRecording,
		resumedAt:    c.clock.Now(),
		bufferTap:    newPCMTap(c.cfg.Audio.Channels),
		segmentsOut:  make(chan []byte, 64),
		reconciler:   newTranscriptReconciler(),
		pumpDone:     make(chan struct{}),
		segmentsDone: make(chan struct{}),
		interimDone:  make(chan struct{}),
		eventsDone:   make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	active.bufferProducer = newProducer(c.clock, c.cfg.BufferInterval, active.bufferTap, func(chunk []byte) {
		active.segmentsOut <- chunk
	})
	go c.consumeSegments(active)

	if stream != nil {
		go c.consumeStream(active)
		close(active.interimDone)
	} else {
		active.interimTap = newPCMTap(c.cfg.Audio.Channels)
		active.interimQueue = make(chan []byte, c.cfg.InterimQueue)
		active.interimProducer = newProducer(c.clock, c.cfg.InterimInterval, active.interimTap, c.enqueueInterim(active))
		interimCtx, interimCancel := context.WithCancel(sessionCtx)
		active.interimCancel = interimCancel
		go c.consumeInterim(interimCtx, active)
		close(active.eventsDone)
	}

	// The buffer tap goes last: once it holds a chunk, every tap does.
	go pumpAudioChunks(
		active.audio,
		[]*pcmTap{active.interimTap, active.bufferTap},
		&active.paused,
		&active.closing,
		c.cfg.ChunkSize,
		c.events,
		active.pumpDone,
	)

	c.metrics.SessionsStarted.Inc()
	c.metrics.ActiveSessions.Inc()
	c.logger.Info("Recording started",
		zap.String("sessionID", sessionID),
		zap.Bool("meetingMode", opts.meetingMode()))

	reason := domain.SessionReasonRecordingStarted
	if restarted {
		reason = domain.SessionReasonRecordingRestarted
	}
	c.events.SessionStateChanged(domain.SessionStateRecording, reason)
	return nil
}

// Pause freezes both cadences and the duration counter. Capture stays open.
func (c *SessionController) Pause() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !active.transition(c.clock.Now(), domain.SessionStatePaused, domain.SessionStateRecording) {
		return ErrInvalidTransition
	}

	active.paused.Store(true)
	active.bufferProducer.pause()
	if active.interimProducer != nil {
		active.interimProducer.pause()
	}

	c.events.SessionStateChanged(domain.SessionStatePaused, domain.SessionReasonRecordingPaused)
	return nil
}

// Resume restarts both cadences on the capture that is already open.
func (c *SessionController) Resume() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !active.transition(c.clock.Now(), domain.SessionStateRecording, domain.SessionStatePaused) {
		return ErrInvalidTransition
	}

	active.bufferProducer.resume()
	if active.interimProducer != nil {
		active.interimProducer.resume()
	}
	active.paused.Store(false)

	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingResumed)
	return nil
}

// Stop ends capture, finalizes the recording and returns the result.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.StopResult{}, err
	}
	switch active.getState() {
	case domain.SessionStateStopping, domain.SessionStateStopped:
		return domain.StopResult{}, ErrInvalidTransition
	}
	if !active.closing.CompareAndSwap(false, true) {
		return domain.StopResult{}, ErrNoActiveSession
	}
	active.transition(c.clock.Now(), domain.SessionStateStopping, domain.SessionStateRecording, domain.SessionStatePaused)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonFinalizing)

	active.stopProducers()
	// The final upload supersedes live captions, so none may hold it up.
	active.stopInterim()
	if err := active.audio.Stop(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	<-active.pumpDone

	active.closeQueues()
	<-active.segmentsDone
	if tail := active.bufferTap.Drain(); len(tail) > 0 {
		c.storeSegment(active, tail)
	}
	<-active.interimDone

	if active.stream != nil {
		_ = active.stream.CloseSend()
		if err := waitForStream(active.stream, c.cfg.StreamGrace); err != nil {
			c.logger.Warn("Streaming session ended with error", zap.String("sessionID", active.id), zap.Error(err))
		}
		<-active.eventsDone
	}
	transcriptionID, remoteErr := c.stopRemote(ctx, active)
	if remoteErr != nil {
		c.events.SessionError(domain.ErrorCodeBackend, fmt.Sprintf("failed to stop backend session: %v", remoteErr))
	}

	result, reason := c.finalizer.Finalize(ctx, finalizeInput{
		sessionID:       active.id,
		transcriptionID: transcriptionID,
		opts:            active.opts,
		segments:        active.snapshotSegments(),
		interim:         active.reconciler.Display(),
		duration:        active.elapsed(c.clock.Now()),
		sampleRate:      c.cfg.Audio.SampleRate,
		channels:        c.cfg.Audio.Channels,
	})

	c.release(active)
	active.setResult(result)
	active.setState(domain.SessionStateStopped)

	c.logger.Info("Recording stopped",
		zap.String("sessionID", active.id),
		zap.Int("segments", result.Segments),
		zap.Bool("fallback", result.Fallback))

	c.events.FinalTranscript(result)
	c.events.SessionStateChanged(domain.SessionStateStopped, reason)
	return result, nil
}

// Abort releases everything without finalizing. It is a no-op when idle.
func (c *SessionController) Abort() error {
	c.mu.Lock()
	active := c.current
	if active == nil {
		c.mu.Unlock()
		return nil
	}
	if active.getState() == domain.SessionStateStopping {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.current = nil
	c.mu.Unlock()

	if active.getState() != domain.SessionStateStopped {
		active.closing.Store(true)
		c.release(active)
		c.stopRemote(context.Background(), active)
	}
	active.setState(domain.SessionStateIdle)
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// Reset returns a stopped session to idle.
func (c *SessionController) Reset() error {
	c.mu.Lock()
	active := c.current
	if active == nil {
		c.mu.Unlock()
		return nil
	}
	if active.getState() != domain.SessionStateStopped {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.current = nil
	c.mu.Unlock()

	active.setState(domain.SessionStateIdle)
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionReset)
	return nil
}

// Status returns the current session snapshot.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}

	state := active.getState()
	status := domain.Status{
		State:      state,
		Active:     state == domain.SessionStateRecording || state == domain.SessionStatePaused || state == domain.SessionStateStopping,
		SessionID:  active.id,
		Duration:   active.elapsed(c.clock.Now()),
		Transcript: active.reconciler.Display(),
	}
	if result := active.getResult(); result != nil {
		status.Transcript = result.Result.Transcript
		if result.Fallback {
			status.Message = "showing live transcript, final transcription failed"
		}
	}
	return status
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

// detach clears the current session if it is still active.
func (c *SessionController) detach(active *activeSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active {
		return false
	}
	c.current = nil
	return true
}

func (c *SessionController) startFailed(code domain.ErrorCode, reason domain.SessionStateReason, detail string) {
	c.metrics.SessionErrors.WithLabelValues(string(code)).Inc()
	c.logger.Warn("Recording failed to start", zap.String("code", string(code)), zap.String("detail", detail))
	c.events.SessionError(code, detail)
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

// failTransport ends the session after the socket broke. Teardown runs on
// its own goroutine because the caller is one of the goroutines it waits on.
func (c *SessionController) failTransport(active *activeSession, detail string) {
	if !active.closing.CompareAndSwap(false, true) {
		return
	}
	active.streamBroken.Store(true)

	c.metrics.SessionErrors.WithLabelValues(string(domain.ErrorCodeTransport)).Inc()
	c.logger.Warn("Streaming transport failed", zap.String("sessionID", active.id), zap.String("detail", detail))
	c.events.SessionError(domain.ErrorCodeTransport, detail)

	go func() {
		c.release(active)
		c.stopRemote(context.Background(), active)
		if c.detach(active) {
			active.setState(domain.SessionStateIdle)
			c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonTransportFailed)
		}
	}()
}

// release stops every goroutine and resource of a session exactly once.
func (c *SessionController) release(active *activeSession) {
	active.releaseOnce.Do(func() {
		active.closing.Store(true)
		active.stopProducers()
		if err := active.audio.Stop(); err != nil {
			c.logger.Debug("Audio stop during release", zap.Error(err))
		}
		if active.stream != nil {
			_ = active.stream.Close()
		}
		<-active.pumpDone

		active.closeQueues()
		<-active.segmentsDone
		active.cancel()
		<-active.interimDone
		<-active.eventsDone

		c.metrics.ActiveSessions.Dec()
	})
}

// stopRemote tells the backend the meeting recording is over, once.
func (c *SessionController) stopRemote(ctx context.Context, active *activeSession) (string, error) {
	if !active.opts.meetingMode() {
		return "", nil
	}
	active.remoteOnce.Do(func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteStopTimeout)
		defer cancel()
		active.remoteID, active.remoteErr = c.api.StopRecording(stopCtx, active.opts.MeetingID)
		if active.remoteErr != nil {
			c.logger.Warn("Backend stop failed", zap.String("sessionID", active.id), zap.Error(active.remoteErr))
		}
	})
	return active.remoteID, active.remoteErr
}

func (c *SessionController) stopMeeting(meetingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteStopTimeout)
	defer cancel()
	if _, err := c.api.StopRecording(ctx, meetingID); err != nil {
		c.logger.Debug("Backend stop after failed start", zap.Error(err))
	}
}
