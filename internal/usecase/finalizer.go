package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

var errNoAudioCaptured = errors.New("no audio captured")

type finalizeInput struct {
	sessionID       string
	transcriptionID string
	opts            StartOptions
	segments        []domain.AudioSegment
	interim         string
	duration        time.Duration
	sampleRate      int
	channels        int
}

type transcriptFinalizer struct {
	api     ports.RecordingAPI
	events  ports.EventSink
	metrics *metrics.Metrics
	logger  *zap.Logger
	clock   clock.Clock
}

func newTranscriptFinalizer(api ports.RecordingAPI, events ports.EventSink, m *metrics.Metrics, logger *zap.Logger, clk clock.Clock) transcriptFinalizer {
	return transcriptFinalizer{api: api, events: events, metrics: m, logger: logger, clock: clk}
}

// Finalize uploads the whole recording. When the upload cannot happen or
// fails, the interim transcript stands in for the backend result.
func (f transcriptFinalizer) Finalize(ctx context.Context, in finalizeInput) (domain.StopResult, domain.SessionStateReason) {
	started := f.clock.Now()
	defer func() {
		f.metrics.FinalizeDuration.Observe(f.clock.Since(started).Seconds())
	}()

	pcm := make([]byte, 0, totalBytes(in.segments))
	for _, segment := range in.segments {
		pcm = append(pcm, segment.Data...)
	}

	result := domain.StopResult{
		SessionID:       in.sessionID,
		TranscriptionID: in.transcriptionID,
		Interim:         in.interim,
		Segments:        len(in.segments),
		AudioBytes:      len(pcm),
		Duration:        in.duration,
	}

	err := errNoAudioCaptured
	if len(pcm) > 0 {
		var wav []byte
		wav, err = audio.EncodeWAV(pcm, in.sampleRate, in.channels)
		if err == nil {
			result.Audio = wav
			var record domain.TranscriptionResult
			record, err = f.api.CompleteRecording(ctx, ports.CompleteRequest{
				Audio:              wav,
				Title:              in.opts.Title,
				AddToKnowledgeBase: in.opts.AddToKnowledgeBase,
			})
			if err == nil {
				if record.Duration == 0 {
					record.Duration = in.duration.Seconds()
				}
				result.Result = record
				if result.TranscriptionID == "" {
					result.TranscriptionID = record.ID
				}
				f.metrics.FinalizeResults.WithLabelValues("ok").Inc()
				return result, domain.SessionReasonTranscriptReady
			}
		}
	}

	f.logger.Warn("Finalize failed, falling back to interim transcript",
		zap.String("sessionID", in.sessionID),
		zap.Int("segments", len(in.segments)),
		zap.Error(err))

	result.Fallback = true
	result.Result = domain.TranscriptionResult{
		ID:         result.TranscriptionID,
		Title:      in.opts.Title,
		Transcript: in.interim,
		Duration:   in.duration.Seconds(),
	}
	f.metrics.FinalizeResults.WithLabelValues("fallback").Inc()
	f.metrics.SessionErrors.WithLabelValues(string(domain.ErrorCodeFinalize)).Inc()
	f.events.SessionError(domain.ErrorCodeFinalize, fmt.Sprintf("final transcription failed, showing live transcript: %v", err))
	return result, domain.SessionReasonTranscriptFallback
}

func totalBytes(segments []domain.AudioSegment) int {
	n := 0
	for _, segment := range segments {
		n += len(segment.Data)
	}
	return n
}
