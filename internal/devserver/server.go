package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
)

const maxUploadBytes = 512 << 20

// Config controls the reference backend.
type Config struct {
	Addr        string
	JWTSecret   string
	Transcriber Transcriber
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server is a local implementation of the recording REST and socket API.
type Server struct {
	echo    *echo.Echo
	hub     *Hub
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("dev server needs a jwt secret")
	}
	if cfg.Transcriber == nil {
		cfg.Transcriber = PlaceholderTranscriber{}
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		hub:     NewHub(cfg.Transcriber, logger.Named("hub")),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.Use(s.countRequests)

	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "recorder-dev-server",
		})
	})
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	guard := requireBearer(s.cfg.JWTSecret, s.logger)

	api := s.echo.Group("/api", guard)
	api.POST("/recording/start", s.startRecording)
	api.POST("/recording/stop", s.stopRecording)
	api.POST("/transcriptions/realtime-chunk", s.realtimeChunk)
	api.POST("/transcriptions/realtime-complete", s.realtimeComplete)

	s.echo.GET("/ws/recording/:session_id", s.socket, guard)
}

// countRequests records every response by route and status.
func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
		s.metrics.HTTPRequests.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully. The listener
// address is reported once bound.
func (s *Server) Run(ctx context.Context, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.echo.Listener = ln

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("Dev server started", zap.String("address", ln.Addr().String()))
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Dev server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

type startRecordingRequest struct {
	MeetingID     string `json:"meeting_id"`
	AudioSettings struct {
		SampleRate int `json:"sample_rate"`
		Channels   int `json:"channels"`
	} `json:"audio_settings"`
}

func (s *Server) startRecording(c echo.Context) error {
	var req startRecordingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	if strings.TrimSpace(req.MeetingID) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing_fields", Message: "meeting_id is required"})
	}

	rec := &recording{
		ID:         uuid.NewString(),
		MeetingID:  req.MeetingID,
		User:       userFrom(c),
		SampleRate: req.AudioSettings.SampleRate,
		Channels:   req.AudioSettings.Channels,
		CreatedAt:  time.Now().UTC(),
	}
	if rec.SampleRate <= 0 {
		rec.SampleRate = 16000
	}
	if rec.Channels <= 0 {
		rec.Channels = 1
	}
	s.hub.addRecording(rec)

	s.logger.Info("Recording session allocated",
		zap.String("sessionID", rec.ID),
		zap.String("meetingID", rec.MeetingID),
		zap.String("user", rec.User))

	return c.JSON(http.StatusOK, map[string]string{
		"session_id":    rec.ID,
		"websocket_url": "/ws/recording/" + rec.ID,
	})
}

func (s *Server) stopRecording(c echo.Context) error {
	var req struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.MeetingID) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing_fields", Message: "meeting_id is required"})
	}
	if !s.hub.finishMeeting(req.MeetingID, userFrom(c)) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "No recording for this meeting"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"transcription_id": uuid.NewString(),
	})
}

func (s *Server) realtimeChunk(c echo.Context) error {
	pcm, sampleRate, channels, err := readAudioField(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_audio", Message: err.Error()})
	}
	text, err := s.cfg.Transcriber.Transcribe(c.Request().Context(), pcm, sampleRate, channels)
	if err != nil {
		s.logger.Error("Chunk transcription failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "transcription_failed", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

func (s *Server) realtimeComplete(c echo.Context) error {
	pcm, sampleRate, channels, err := readAudioField(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_audio", Message: err.Error()})
	}
	text, err := s.cfg.Transcriber.Transcribe(c.Request().Context(), pcm, sampleRate, channels)
	if err != nil {
		s.logger.Error("Final transcription failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "transcription_failed", Message: err.Error()})
	}

	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		title = "Recording " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	addToKB, _ := strconv.ParseBool(c.FormValue("add_to_knowledge_base"))

	result := domain.TranscriptionResult{
		ID:                   uuid.NewString(),
		Title:                title,
		Transcript:           text,
		Summary:              summarize(text),
		AddedToKnowledgeBase: addToKB,
		Duration:             audio.PCMDuration(len(pcm), sampleRate, channels).Seconds(),
		CreatedAt:            time.Now().UTC(),
	}
	s.logger.Info("Recording completed",
		zap.String("transcriptionID", result.ID),
		zap.String("user", userFrom(c)),
		zap.Float64("duration", result.Duration))
	return c.JSON(http.StatusOK, result)
}

func (s *Server) socket(c echo.Context) error {
	rec, ok := s.hub.recording(c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "Unknown recording session"})
	}
	if rec.User != userFrom(c) {
		return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden", Message: "Session belongs to another user"})
	}
	return s.hub.ServeSocket(c, rec)
}

// readAudioField decodes the multipart "audio" WAV upload.
func readAudioField(c echo.Context) ([]byte, int, int, error) {
	header, err := c.FormFile("audio")
	if err != nil {
		return nil, 0, 0, errors.New("audio file field is required")
	}
	f, err := header.Open()
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return nil, 0, 0, err
	}
	return audio.DecodeWAV(data)
}
