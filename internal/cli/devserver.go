package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parth2411/transcription-platform-sub000/internal/devserver"
	"github.com/parth2411/transcription-platform-sub000/internal/metrics"
)

func NewDevServerCmd(deps *Dependencies) *cobra.Command {
	var (
		addr       string
		user       string
		printToken bool
		tokenTTL   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run a local reference backend",
		Long:  "Serve the recording REST and WebSocket API locally. Transcripts describe the audio instead of recognizing speech.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := stdoutFormatter(deps)
			cfg := deps.Config.DevServer
			if addr != "" {
				cfg.Addr = addr
			}

			server, err := devserver.New(devserver.Config{
				Addr:      cfg.Addr,
				JWTSecret: cfg.JWTSecret,
			}, metrics.New(), deps.Logger.Named("devserver"))
			if err != nil {
				return err
			}

			if printToken {
				token, err := devserver.IssueToken(cfg.JWTSecret, user, tokenTTL)
				if err != nil {
					return fmt.Errorf("issuing token: %w", err)
				}
				out.Info(fmt.Sprintf("Token for %s (valid %s):\n%s", user, tokenTTL, token))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx, func(bound net.Addr) {
				out.Success("Dev server listening on http://" + bound.String())
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8000)")
	cmd.Flags().StringVar(&user, "user", "dev", "User the printed token is issued to")
	cmd.Flags().BoolVar(&printToken, "print-token", false, "Print a bearer token signed with the server secret")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Lifetime of the printed token")

	return cmd
}
