package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
	"github.com/parth2411/transcription-platform-sub000/internal/bootstrap"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := stdoutFormatter(deps)
			cfg := deps.Config
			ok := true

			if err := audio.NewFFMPEGCapture(cfg.Audio.FFmpegCommand).CheckFFmpeg(); err != nil {
				f.SetupCheck("ffmpeg", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("ffmpeg", true, cfg.Audio.FFmpegCommand)
			}

			f.SetupCheck("Audio input", true, fmt.Sprintf("%s:%s at %d Hz, %d ch",
				cfg.Audio.InputFormat, cfg.Audio.InputDevice, cfg.Audio.SampleRate, cfg.Audio.Channels))

			if cfg.Path != "" {
				f.SetupCheck("Config file", true, cfg.Path)
			} else {
				f.SetupCheck("Config file", true, "none, using defaults and environment")
			}

			if err := cfg.Validate(); err != nil {
				f.SetupCheck("API base URL", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("API base URL", true, cfg.API.BaseURL)
			}

			session, err := bootstrap.ResolveSession(cfg)
			if err == nil {
				_, err = session.BearerToken()
			}
			switch {
			case err != nil:
				f.SetupCheck("API token", false, err.Error())
				ok = false
			case !session.ExpiresAt.IsZero():
				f.SetupCheck("API token", true, fmt.Sprintf("configured, expires %s", session.ExpiresAt.Format(time.RFC3339)))
			default:
				f.SetupCheck("API token", true, "configured")
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
