package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/cli"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	deps := &cli.Dependencies{
		Out: output.NewFormatter(os.Stdout),
		NewRecorder: func(out *output.Formatter, m *metrics.Metrics, logger *zap.Logger) cli.Recorder {
			return NewApp(out, m, logger)
		},
	}
	return cli.NewRootCmd(deps).Execute()
}
