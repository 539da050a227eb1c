package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/api"
	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/auth"
	"github.com/parth2411/transcription-platform-sub000/internal/config"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
	"github.com/parth2411/transcription-platform-sub000/internal/providers/backend"
	"github.com/parth2411/transcription-platform-sub000/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Session    *auth.Session
	API        *api.Client
	Metrics    *metrics.Metrics
}

// Build wires the recording session against the configured backend.
func Build(cfg config.Config, eventSink ports.EventSink, m *metrics.Metrics, logger *zap.Logger) (Services, error) {
	if err := cfg.Validate(); err != nil {
		return Services{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	session, err := ResolveSession(cfg)
	if err != nil {
		return Services{}, err
	}
	if _, err := session.BearerToken(); err != nil {
		return Services{}, err
	}

	client, err := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, session, logger.Named("api"))
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		audio.NewFFMPEGCapture(cfg.Audio.FFmpegCommand),
		client,
		backend.NewDialer(client.BaseURL(), session, logger.Named("stream")),
		eventSink,
		m,
		logger.Named("session"),
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         cfg.Audio.Channels,
				InputFormat:      cfg.Audio.InputFormat,
				InputDevice:      cfg.Audio.InputDevice,
				EchoCancelDevice: cfg.Audio.EchoCancelDevice,
				EchoCancellation: cfg.Audio.EchoCancellation,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
			},
			BufferInterval:  cfg.Session.BufferInterval,
			InterimInterval: cfg.Session.InterimInterval,
			InterimQueue:    cfg.Session.InterimQueue,
			StreamGrace:     cfg.Session.StreamGrace,
			ChunkSize:       cfg.Session.ChunkSize,
		},
	)

	return Services{
		Controller: controller,
		Config:     cfg,
		Session:    session,
		API:        client,
		Metrics:    m,
	}, nil
}

// ResolveSession prefers a configured token over the credentials file.
func ResolveSession(cfg config.Config) (*auth.Session, error) {
	if cfg.API.Token != "" {
		return auth.NewSession(cfg.API.Token, ""), nil
	}
	path := CredentialsPath(cfg)
	session, err := auth.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return session, nil
}

// CredentialsPath is the credentials file consulted by ResolveSession.
func CredentialsPath(cfg config.Config) string {
	if cfg.API.CredentialsPath != "" {
		return cfg.API.CredentialsPath
	}
	return auth.DefaultCredentialsPath()
}
