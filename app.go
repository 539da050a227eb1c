package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/bootstrap"
	"github.com/parth2411/transcription-platform-sub000/internal/config"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/output"
	"github.com/parth2411/transcription-platform-sub000/internal/usecase"
)

// progressEvery throttles the elapsed-time line; segments arrive every second.
const progressEvery = 10 * time.Second

// App is the terminal front end of a recording session. It renders session
// events and forwards record commands to the controller.
type App struct {
	out     *output.Formatter
	logger  *zap.Logger
	metrics *metrics.Metrics

	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error

	mu           sync.Mutex
	opts         usecase.StartOptions
	lastProgress time.Duration
	lastElapsed  time.Duration
	ended        chan domain.SessionStateReason
}

func NewApp(out *output.Formatter, m *metrics.Metrics, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		out:     out,
		logger:  logger,
		metrics: m,
		ended:   make(chan domain.SessionStateReason, 1),
	}
}

// Init assembles the runtime graph. Failures are kept so later calls
// report the same cause.
func (a *App) Init(cfg config.Config) error {
	services, err := bootstrap.Build(cfg, a, a.metrics, a.logger)
	if err != nil {
		a.bootErr = err
		a.logger.Error("Startup failed", zap.Error(err))
		return err
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.metrics = services.Metrics
	a.logger.Debug("Recorder initialized",
		zap.String("apiBaseURL", a.cfg.API.BaseURL),
		zap.String("inputFormat", a.cfg.Audio.InputFormat),
		zap.String("inputDevice", a.cfg.Audio.InputDevice))
	return nil
}

// StartRecording opens capture and the live caption path.
func (a *App) StartRecording(ctx context.Context, opts usecase.StartOptions) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.mu.Lock()
	a.opts = opts
	a.lastProgress = 0
	a.lastElapsed = 0
	a.mu.Unlock()
	select {
	case <-a.ended:
	default:
	}

	if err := a.controller.Start(ctx, opts); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

func (a *App) PauseRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Pause()
}

func (a *App) ResumeRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Resume()
}

// StopRecording finalizes the recording. A fallback result is not an error.
func (a *App) StopRecording(ctx context.Context) (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	return a.controller.Stop(ctx)
}

// AbortRecording discards an in-progress recording.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Abort(); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// Ended fires when the session tears itself down without a stop request.
func (a *App) Ended() <-chan domain.SessionStateReason {
	return a.ended
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("recorder is not initialized")
	}
	return nil
}

// SessionStateChanged renders lifecycle updates.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.logger.Debug("Session state changed", zap.String("state", string(state)), zap.String("reason", string(reason)))
	if reason == domain.SessionReasonTransportFailed || reason == domain.SessionReasonPermissionDenied {
		a.signalEnded(state, reason)
	}
	if a.out == nil {
		return
	}

	a.mu.Lock()
	opts := a.opts
	elapsed := a.lastElapsed
	a.mu.Unlock()

	switch reason {
	case domain.SessionReasonRecordingStarted, domain.SessionReasonRecordingRestarted:
		a.out.RecordingStarted(opts.Title, opts.MeetingID != "")
		if reason == domain.SessionReasonRecordingRestarted {
			a.out.Info(sessionReasonMessage(reason))
		}
		a.out.Controls()
	case domain.SessionReasonRecordingPaused:
		a.out.RecordingPaused(elapsed)
	case domain.SessionReasonRecordingResumed:
		a.out.RecordingResumed()
	case domain.SessionReasonFinalizing:
		a.out.RecordingStopped(elapsed)
		a.out.Finalizing()
	case domain.SessionReasonTranscriptReady, domain.SessionReasonTranscriptFallback:
		// FinalTranscript already rendered the result.
	case domain.SessionReasonTransportFailed, domain.SessionReasonPermissionDenied:
		a.out.Warning(sessionReasonMessage(reason))
	default:
		if msg := sessionReasonMessage(reason); msg != "" {
			a.out.Info(msg)
		}
	}
}

func (a *App) signalEnded(state domain.SessionState, reason domain.SessionStateReason) {
	if state != domain.SessionStateIdle {
		return
	}
	select {
	case a.ended <- reason:
	default:
	}
}

// TranscriptUpdated prints each live caption fragment.
func (a *App) TranscriptUpdated(_ string, chunk domain.TranscriptChunk) {
	if a.out == nil {
		return
	}
	a.out.LiveTranscript(chunk.Text, chunk.IsFinal)
}

// Progress prints the elapsed time every progressEvery.
func (a *App) Progress(elapsed time.Duration, level float64) {
	a.mu.Lock()
	a.lastElapsed = elapsed
	due := elapsed-a.lastProgress >= progressEvery
	if due {
		a.lastProgress = elapsed
	}
	a.mu.Unlock()

	if due && a.out != nil {
		a.out.Progress(elapsed, level)
	}
}

// FinalTranscript renders the authoritative or fallback transcript.
func (a *App) FinalTranscript(result domain.StopResult) {
	if a.out == nil {
		return
	}
	if result.Fallback {
		a.out.TranscriptFallback(result)
		return
	}
	a.out.TranscriptReady(result)
}

// SessionError reports session failures without stopping the session.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.logger.Warn("Session error", zap.String("code", string(code)), zap.String("detail", detail))
	if a.out == nil {
		return
	}
	msg := errorMessage(code, detail)
	if detail != "" && msg != detail {
		msg += ": " + detail
	}
	a.out.Error(msg)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonRecordingRestarted:
		return "Recording restarted; previous capture discarded"
	case domain.SessionReasonRecordingPaused:
		return "Recording paused"
	case domain.SessionReasonRecordingResumed:
		return "Recording resumed"
	case domain.SessionReasonFinalizing:
		return "Recording stopped. Finalizing..."
	case domain.SessionReasonTranscriptReady:
		return "Transcript ready"
	case domain.SessionReasonTranscriptFallback:
		return "Showing live transcript (final transcription failed)"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonPermissionDenied:
		return "Microphone permission denied"
	case domain.SessionReasonTransportFailed:
		return "Connection to the backend failed"
	case domain.SessionReasonSessionReset:
		return "Ready for a new recording"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTransport:
		return "Connection error"
	case domain.ErrorCodeInterim:
		return "Live caption request failed"
	case domain.ErrorCodeFinalize:
		return "Final transcription failed"
	case domain.ErrorCodeBackend:
		return "Backend error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
