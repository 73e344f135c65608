package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/jrsteele09/go-auth-session/cmd/sessionctl/cmd"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.NewRootCommand().ExecuteContext(ctx)
}
