package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the user behind the session from the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			token := a.state.Current().AccessToken
			if token == "" {
				return errors.New("not logged in")
			}

			provider, err := a.provider(ctx)
			if err != nil {
				return err
			}
			user, err := provider.Profile(ctx, token)
			if err != nil {
				// The token may have expired; renew once and ask again.
				coordinator, cerr := a.coordinator(ctx)
				if cerr != nil {
					return cerr
				}
				renewed, rerr := coordinator.Refresh(ctx, token)
				if rerr != nil {
					return errors.Join(err, rerr)
				}
				if user, err = provider.Profile(ctx, renewed); err != nil {
					return err
				}
			}

			a.state.SetUser(ctx, user)
			fmt.Fprintln(cmd.OutOrStdout(), describeUser(user))
			return nil
		},
	}
}
