package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
	"github.com/parth2411/transcription-platform-sub000/internal/output"
	"github.com/parth2411/transcription-platform-sub000/internal/usecase"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		opts        usecase.StartOptions
		duration    time.Duration
		saveAudio   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until stopped, then print the final transcript",
		Long: "Record from the microphone in the foreground.\n" +
			"Without --meeting-id live captions come from a short chunk upload every few seconds.\n" +
			"With --meeting-id audio streams to the backend over a WebSocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := stdoutFormatter(deps)
			cfg := deps.Config
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}

			m := metrics.New()
			rec := deps.NewRecorder(out, m, deps.Logger)
			if err := rec.Init(cfg); err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				srv := metrics.NewServer(cfg.MetricsAddr, m, deps.Logger)
				addr, err := srv.Start()
				if err != nil {
					return fmt.Errorf("serving metrics: %w", err)
				}
				out.Info("Metrics on http://" + addr.String() + "/metrics")
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Stop(ctx)
				}()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			interrupts := make(chan os.Signal, 2)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)

			var autoStop <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				autoStop = timer.C
			}

			result, discarded, err := runSession(ctx, rec, out, opts, sessionInputs{
				commands:   readCommands(ctx, cmd.InOrStdin()),
				interrupts: interrupts,
				autoStop:   autoStop,
			})
			if err != nil || discarded {
				return err
			}

			if saveAudio != "" {
				if len(result.Audio) == 0 {
					out.Warning("No audio captured, nothing saved")
					return nil
				}
				if err := os.WriteFile(saveAudio, result.Audio, 0o644); err != nil {
					return fmt.Errorf("saving audio: %w", err)
				}
				out.AudioSaved(saveAudio)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Title, "title", "t", "", "Title for the transcript")
	cmd.Flags().StringVar(&opts.MeetingID, "meeting-id", "", "Stream to this meeting over a WebSocket")
	cmd.Flags().BoolVar(&opts.AddToKnowledgeBase, "kb", false, "Add the transcript to the knowledge base")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop automatically after this long (0 records until stopped)")
	cmd.Flags().StringVar(&saveAudio, "save-audio", "", "Also write the recording to this WAV file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while recording")

	return cmd
}

type sessionInputs struct {
	commands   <-chan string
	interrupts <-chan os.Signal
	autoStop   <-chan time.Time
}

type stopOutcome struct {
	result domain.StopResult
	err    error
}

// runSession starts a recording and drives it from typed commands, signals
// and the auto-stop timer. A second interrupt while finalizing cancels the
// upload and discards the session.
func runSession(ctx context.Context, rec Recorder, out *output.Formatter, opts usecase.StartOptions, in sessionInputs) (domain.StopResult, bool, error) {
	if _, err := rec.StartRecording(ctx, opts); err != nil {
		return domain.StopResult{}, false, err
	}

	var (
		stopDone   chan stopOutcome
		cancelStop context.CancelFunc = func() {}
		discard    bool
	)
	defer func() { cancelStop() }()

	beginStop := func() {
		if stopDone != nil {
			return
		}
		var stopCtx context.Context
		stopCtx, cancelStop = context.WithCancel(ctx)
		stopDone = make(chan stopOutcome, 1)
		go func() {
			result, err := rec.StopRecording(stopCtx)
			stopDone <- stopOutcome{result: result, err: err}
		}()
	}

	commands := in.commands
	done := ctx.Done()
	for {
		select {
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "p", "pause":
				reportControl(out, "pause", rec.PauseRecording())
			case "r", "resume":
				reportControl(out, "resume", rec.ResumeRecording())
			case "s", "stop":
				beginStop()
			case "":
			default:
				out.Info("Commands: p (pause), r (resume), s (stop)")
			}

		case <-in.interrupts:
			if stopDone == nil {
				beginStop()
				continue
			}
			if !discard {
				discard = true
				out.Warning("Discarding recording...")
				cancelStop()
			}

		case <-in.autoStop:
			beginStop()

		case reason := <-rec.Ended():
			if stopDone == nil {
				return domain.StopResult{}, false, fmt.Errorf("recording ended: %s", reason)
			}

		case outcome := <-stopDone:
			if discard {
				if err := rec.AbortRecording(); err != nil {
					return domain.StopResult{}, true, err
				}
				return domain.StopResult{}, true, nil
			}
			return outcome.result, false, outcome.err

		case <-done:
			done = nil
			if stopDone == nil {
				_ = rec.AbortRecording()
				return domain.StopResult{}, true, ctx.Err()
			}
		}
	}
}

func reportControl(out *output.Formatter, action string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrInvalidTransition):
		out.Warning(fmt.Sprintf("Cannot %s right now", action))
	default:
		out.Error(fmt.Sprintf("%s failed: %v", action, err))
	}
}

// readCommands forwards input lines until r ends or ctx is done.
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
