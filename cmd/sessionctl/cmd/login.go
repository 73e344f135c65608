package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var accessToken, refreshToken string
	var fetchProfile bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Install a token pair as the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			a.state.Replace(cmd.Context(), accessToken, refreshToken, nil)

			if fetchProfile && a.cfg.GetIssuerURL() != "" {
				provider, err := a.provider(cmd.Context())
				if err != nil {
					return err
				}
				user, err := provider.Profile(cmd.Context(), accessToken)
				if err != nil {
					log.Warn().Err(err).Msg("Logged in without a profile")
				} else {
					a.state.SetUser(cmd.Context(), user)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token")
	cmd.Flags().BoolVar(&fetchProfile, "profile", true, "resolve the user from the userinfo endpoint")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}
