package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parth2411/transcription-platform-sub000/internal/config"
	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/output"
	"github.com/parth2411/transcription-platform-sub000/internal/usecase"
	"github.com/parth2411/transcription-platform-sub000/internal/version"
)

// Recorder is the session front end the record command drives.
type Recorder interface {
	Init(cfg config.Config) error
	StartRecording(ctx context.Context, opts usecase.StartOptions) (domain.Status, error)
	PauseRecording() error
	ResumeRecording() error
	StopRecording(ctx context.Context) (domain.StopResult, error)
	AbortRecording() error
	GetStatus() domain.Status
	Ended() <-chan domain.SessionStateReason
}

type Dependencies struct {
	Config config.Config
	Logger *zap.Logger
	Out    *output.Formatter

	NewRecorder func(out *output.Formatter, m *metrics.Metrics, logger *zap.Logger) Recorder
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Record audio with live captions and a final transcript",
		Long:          "Captures microphone audio, shows a live transcript while recording and uploads the full recording for an authoritative transcript when you stop.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, debug)
			if err != nil {
				return err
			}
			deps.Config = cfg
			deps.Logger = logger
			if deps.Out == nil {
				deps.Out = output.NewFormatter(cmd.OutOrStdout())
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps.Logger != nil {
				_ = deps.Logger.Sync()
			}
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/recorder/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose development logging to stderr")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDevServerCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewAuthCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// newLogger builds the production logger at level, or the development
// logger when debug is set.
func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version.Full() + "\n"))
			return err
		},
	}
}

func stdoutFormatter(deps *Dependencies) *output.Formatter {
	if deps.Out != nil {
		return deps.Out
	}
	return output.NewFormatter(os.Stdout)
}
