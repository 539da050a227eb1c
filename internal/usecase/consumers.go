package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
)

// consumeSegments is the 1s consumer: local buffering plus the socket send
// in meeting mode.
func (c *SessionController) consumeSegments(active *activeSession) {
	defer close(active.segmentsDone)
	for chunk := range active.segmentsOut {
		c.storeSegment(active, chunk)
	}
}

func (c *SessionController) storeSegment(active *activeSession, chunk []byte) {
	now := c.clock.Now()
	segment := domain.AudioSegment{
		Data:       chunk,
		Duration:   audio.PCMDuration(len(chunk), c.cfg.Audio.SampleRate, c.cfg.Audio.Channels),
		Level:      audio.Level(chunk),
		CapturedAt: now,
	}
	active.appendSegment(segment)
	c.metrics.SegmentsBuffered.Inc()
	c.metrics.BytesBuffered.Add(float64(len(chunk)))
	c.events.Progress(active.elapsed(now), segment.Level)

	if active.stream == nil || active.streamBroken.Load() {
		return
	}
	if err := active.stream.SendAudio(chunk); err != nil {
		active.streamBroken.Store(true)
		c.failTransport(active, fmt.Sprintf("failed to stream audio: %v", err))
		return
	}
	c.metrics.StreamFramesSent.Inc()
}

// enqueueInterim never blocks the interim producer. A full queue means the
// previous request is still in flight, so the chunk is dropped.
func (c *SessionController) enqueueInterim(active *activeSession) func([]byte) {
	return func(chunk []byte) {
		select {
		case active.interimQueue <- chunk:
		default:
			c.metrics.InterimDropped.Inc()
			c.logger.Warn("Interim queue full, dropping chunk",
				zap.String("sessionID", active.id),
				zap.Int("bytes", len(chunk)))
		}
	}
}

func (c *SessionController) consumeInterim(ctx context.Context, active *activeSession) {
	defer close(active.interimDone)
	for chunk := range active.interimQueue {
		if ctx.Err() != nil {
			continue
		}
		wav, err := audio.EncodeWAV(chunk, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels)
		if err != nil {
			continue
		}

		text, err := c.api.TranscribeChunk(ctx, wav)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.metrics.InterimRequests.WithLabelValues("error").Inc()
			c.metrics.SessionErrors.WithLabelValues(string(domain.ErrorCodeInterim)).Inc()
			c.events.SessionError(domain.ErrorCodeInterim, fmt.Sprintf("live transcription failed: %v", err))
			continue
		}
		c.metrics.InterimRequests.WithLabelValues("ok").Inc()

		c.publishTranscript(domain.TranscriptChunk{
			Text:      text,
			Timestamp: c.clock.Now(),
			Source:    domain.TranscriptSourceInterim,
		}, active)
	}
}

func (c *SessionController) consumeStream(active *activeSession) {
	defer close(active.eventsDone)

	for event := range active.stream.Events() {
		switch event.Type {
		case domain.StreamEventConnected:
			c.logger.Info("Streaming session connected", zap.String("sessionID", event.SessionID))
		case domain.StreamEventTranscript:
			c.publishTranscript(event.Chunk, active)
		case domain.StreamEventError:
			c.failTransport(active, event.Message)
		}
	}

	if active.closing.Load() {
		return
	}
	detail := "streaming connection closed unexpectedly"
	if err := active.stream.Wait(); err != nil {
		detail = err.Error()
	}
	c.failTransport(active, detail)
}

func (c *SessionController) publishTranscript(chunk domain.TranscriptChunk, active *activeSession) {
	if !active.reconciler.Add(chunk) {
		return
	}
	c.metrics.TranscriptMessages.WithLabelValues(string(chunk.Source)).Inc()
	c.events.TranscriptUpdated(active.reconciler.Display(), chunk)
}
