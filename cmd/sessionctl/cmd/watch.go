package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	var keepAlive, banner bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow session changes made by other processes",
		Long: `Print every change another process makes to the shared session until
interrupted. With --keep-alive the access token is renewed shortly before it
expires, so the session stays usable for everyone sharing the storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := &syncWriter{w: cmd.OutOrStdout()}

			if banner {
				displayAppname(out, opts.cfg.GetAppName())
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			if metricsAddr != "" {
				server := metrics.NewServer(metricsAddr, reg)
				if err := server.Start(); err != nil {
					return err
				}
				defer func() {
					if err := server.Stop(); err != nil {
						log.Err(err).Msg("Failed to stop metrics server")
					}
				}()
			}

			a, err := openWatchedApp(ctx, opts, session.WithChangeHook(func(s session.Session) {
				m.SessionChanged(s)
				fmt.Fprintln(out, "session changed by another process")
				printSession(out, opts.storageBackend(), s)
			}))
			if err != nil {
				return err
			}
			defer a.Close()
			printSession(out, opts.storageBackend(), a.state.Current())

			if !keepAlive {
				<-ctx.Done()
				return nil
			}

			coordinator, err := a.coordinator(ctx, refresh.WithObserver(m))
			if err != nil {
				return err
			}
			ticker := time.NewTicker(opts.cfg.GetWatchInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					token := a.state.Current().AccessToken
					if token == "" || !jwt.ExpiresWithin(token, opts.cfg.GetRefreshSkew(), time.Now()) {
						continue
					}
					if _, err := coordinator.Refresh(ctx, token); err != nil {
						log.Warn().Err(err).Msg("Keep-alive refresh failed")
						continue
					}
					fmt.Fprintln(out, "access token renewed")
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", false, "renew the access token before it expires")
	cmd.Flags().BoolVar(&banner, "banner", true, "print the application banner")
	return cmd
}

func displayAppname(w io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(w, myFigure.String())
}

// syncWriter serialises writes from the change hook and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
