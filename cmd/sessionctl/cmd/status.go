package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			printSession(cmd.OutOrStdout(), opts.storageBackend(), a.state.Current())
			return nil
		},
	}
}

func printSession(w io.Writer, backend string, s session.Session) {
	fmt.Fprintf(w, "backend:        %s\n", backend)
	if !s.IsAuthenticated() {
		fmt.Fprintln(w, "authenticated:  false")
		return
	}

	fmt.Fprintln(w, "authenticated:  true")
	if claims, ok := jwt.Inspect(s.AccessToken); ok && !claims.Exp.IsZero() {
		fmt.Fprintf(w, "expires:        %s (%s)\n", claims.Exp.Format(time.RFC3339), time.Until(claims.Exp).Round(time.Second))
	}
	fmt.Fprintf(w, "refresh token:  %t\n", s.RefreshToken != "")
	if s.User != nil {
		fmt.Fprintf(w, "user:           %s\n", describeUser(s.User))
	}
}

func describeUser(u *session.User) string {
	if u.Email == "" {
		return u.ID
	}
	return fmt.Sprintf("%s (%s)", u.Email, u.ID)
}
