package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parth2411/transcription-platform-sub000/internal/auth"
	"github.com/parth2411/transcription-platform-sub000/internal/bootstrap"
)

func NewAuthCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored API token",
	}
	cmd.AddCommand(newSetTokenCmd(deps))
	return cmd
}

func newSetTokenCmd(deps *Dependencies) *cobra.Command {
	var user string

	return &cobra.Command{
		Use:   "set-token <token>",
		Short: "Store a bearer token for the recording API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			if token == "" {
				return errors.New("token cannot be empty")
			}

			session := auth.NewSession(token, user)
			if _, err := session.BearerToken(); err != nil {
				return err
			}

			path := bootstrap.CredentialsPath(deps.Config)
			if err := auth.Save(path, session); err != nil {
				return err
			}
			stdoutFormatter(deps).Success("Token saved to " + path)
			return nil
		},
	}
}
