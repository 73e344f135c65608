package cmd

import (
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	var retries uint

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token with the refresh token",
		Long: `Renew the access token. Transient failures are retried up to --retries
times; a rejected refresh token ends the session immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			coordinator, err := a.coordinator(ctx)
			if err != nil {
				return err
			}

			_, err = retry.DoWithData(
				func() (string, error) {
					return coordinator.Refresh(ctx, "")
				},
				retry.Context(ctx),
				retry.Attempts(max(retries, 1)),
				retry.RetryIf(refresh.IsTransient),
				retry.LastErrorOnly(true),
				retry.OnRetry(func(n uint, err error) {
					log.Warn().Err(err).Uint("attempt", n+1).Msg("Refresh failed, retrying")
				}),
			)
			if refresh.IsTerminal(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "session ended: log in again")
				return err
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "refreshed")
			printSession(cmd.OutOrStdout(), opts.storageBackend(), a.state.Current())
			return nil
		},
	}

	cmd.Flags().UintVar(&retries, "retries", 1, "attempts for transient failures")
	return cmd
}
