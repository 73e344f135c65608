package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the session in every process sharing the storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			a.state.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
