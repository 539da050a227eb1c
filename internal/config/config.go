package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the recorder.
type Config struct {
	API       APIConfig       `toml:"api"`
	Audio     AudioConfig     `toml:"audio"`
	Session   SessionConfig   `toml:"session"`
	DevServer DevServerConfig `toml:"dev_server"`

	MetricsAddr string `toml:"metrics_addr" env:"RECORDER_METRICS_ADDR"`
	LogLevel    string `toml:"log_level" env:"RECORDER_LOG_LEVEL" env-default:"warn"`

	// Path is the config file that was read, if any.
	Path string `toml:"-" env:"-"`
}

type APIConfig struct {
	BaseURL         string        `toml:"base_url" env:"RECORDER_API_BASE_URL" env-default:"http://localhost:8000"`
	Token           string        `toml:"token" env:"RECORDER_API_TOKEN"`
	Timeout         time.Duration `toml:"timeout" env:"RECORDER_API_TIMEOUT" env-default:"2m"`
	CredentialsPath string        `toml:"credentials_path" env:"RECORDER_CREDENTIALS"`
}

type AudioConfig struct {
	FFmpegCommand    string `toml:"ffmpeg_command" env:"RECORDER_FFMPEG_COMMAND" env-default:"ffmpeg"`
	InputFormat      string `toml:"input_format" env:"RECORDER_AUDIO_INPUT_FORMAT" env-default:"pulse"`
	InputDevice      string `toml:"input_device" env:"RECORDER_AUDIO_INPUT_DEVICE" env-default:"default"`
	EchoCancelDevice string `toml:"echo_cancel_device" env:"RECORDER_ECHO_CANCEL_DEVICE"`
	SampleRate       int    `toml:"sample_rate" env:"RECORDER_SAMPLE_RATE" env-default:"16000"`
	Channels         int    `toml:"channels" env:"RECORDER_CHANNELS" env-default:"1"`
	EchoCancellation bool   `toml:"echo_cancellation" env:"RECORDER_ECHO_CANCELLATION"`
	NoiseSuppression bool   `toml:"noise_suppression" env:"RECORDER_NOISE_SUPPRESSION"`
}

type SessionConfig struct {
	ChunkSize       int           `toml:"chunk_size" env:"RECORDER_AUDIO_CHUNK_SIZE" env-default:"4096"`
	BufferInterval  time.Duration `toml:"buffer_interval" env:"RECORDER_BUFFER_INTERVAL" env-default:"1s"`
	InterimInterval time.Duration `toml:"interim_interval" env:"RECORDER_INTERIM_INTERVAL" env-default:"5s"`
	InterimQueue    int           `toml:"interim_queue" env:"RECORDER_INTERIM_QUEUE" env-default:"2"`
	StreamGrace     time.Duration `toml:"stream_grace" env:"RECORDER_STREAM_GRACE" env-default:"4s"`
}

type DevServerConfig struct {
	Addr      string `toml:"addr" env:"RECORDER_DEVSERVER_ADDR" env-default:":8000"`
	JWTSecret string `toml:"jwt_secret" env:"RECORDER_DEVSERVER_JWT_SECRET" env-default:"dev-secret"`
}

// DefaultPath is the config file consulted when RECORDER_CONFIG is unset.
func DefaultPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "recorder", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "recorder", "config.toml")
}

// Load resolves configuration from .env, an optional TOML file and the
// environment, in increasing priority. An explicit path must exist.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	path, explicit := resolvePath(path)

	// Echo and noise processing are on unless the file or env turns them off.
	cfg := Config{
		Audio: AudioConfig{
			EchoCancellation: true,
			NoiseSuppression: true,
		},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("reading config %q: %w", path, err)
			}
			cfg.Path = path
		} else if explicit {
			return Config{}, fmt.Errorf("config file %q: %w", path, err)
		}
	}
	if cfg.Path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("reading environment: %w", err)
		}
	}

	normalize(&cfg)
	return cfg, nil
}

func resolvePath(path string) (string, bool) {
	if p := strings.TrimSpace(path); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv("RECORDER_CONFIG")); p != "" {
		return p, true
	}
	return DefaultPath(), false
}

func normalize(cfg *Config) {
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.API.Token = strings.TrimSpace(cfg.API.Token)
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8000"
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 2 * time.Minute
	}

	cfg.Audio.FFmpegCommand = firstNonEmpty(cfg.Audio.FFmpegCommand, "ffmpeg")
	cfg.Audio.InputFormat = firstNonEmpty(cfg.Audio.InputFormat, "pulse")
	cfg.Audio.InputDevice = firstNonEmpty(cfg.Audio.InputDevice, "default")
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}

	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.BufferInterval <= 0 {
		cfg.Session.BufferInterval = time.Second
	}
	if cfg.Session.InterimInterval <= 0 {
		cfg.Session.InterimInterval = 5 * time.Second
	}
	if cfg.Session.InterimInterval < cfg.Session.BufferInterval {
		cfg.Session.InterimInterval = cfg.Session.BufferInterval
	}
	if cfg.Session.InterimQueue <= 0 {
		cfg.Session.InterimQueue = 2
	}
	if cfg.Session.StreamGrace <= 0 {
		cfg.Session.StreamGrace = 4 * time.Second
	}

	cfg.DevServer.Addr = firstNonEmpty(cfg.DevServer.Addr, ":8000")
	cfg.DevServer.JWTSecret = firstNonEmpty(cfg.DevServer.JWTSecret, "dev-secret")

	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "error":
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	default:
		cfg.LogLevel = "warn"
	}
}

// Validate reports settings that make recording impossible.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API base URL %q", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("API base URL must use http or https")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
