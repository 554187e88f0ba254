package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"harvester/bootstrap"
	"harvester/ingest"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject        string
		ttl            time.Duration
		generateSecret bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the ingest listener",
		Long: `Sign a token with listener.auth.jwt_secret for a sender (a manager node or a
forwarder). Use --generate-secret to create a new signing secret instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			if generateSecret {
				secret, err := bootstrap.GenerateSecret(48)
				if err != nil {
					return err
				}
				if outputJSON {
					return outputAsJSON(w, map[string]string{"secret": secret})
				}
				fmt.Fprintln(w, secret)
				return nil
			}

			if subject == "" {
				host, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("--subject is required: %w", err)
				}
				subject = host
			}

			cfg, _, err := loadCLIConfig()
			if err != nil {
				return err
			}
			if cfg.Listener.Auth.JWTSecret == "" {
				return errors.New("listener.auth.jwt_secret is not set")
			}

			token, err := ingest.NewToken(cfg.Listener.Auth.JWTSecret, cfg.Listener.Auth.Issuer, subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			if outputJSON {
				return outputAsJSON(w, map[string]string{
					"token":      token,
					"subject":    subject,
					"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(w, token)
			if !quiet && !cfg.Listener.Auth.Enabled {
				warningColor.Fprintln(cmd.ErrOrStderr(), "listener.auth.enabled is false, the listener does not check tokens")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (default: hostname)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&generateSecret, "generate-secret", false, "Print a new random signing secret and exit")
	return cmd
}
