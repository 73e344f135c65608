// Package cmd provides the sessionctl commands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	backend    string

	cfg     config.Config
	logFile *lumberjack.Logger
}

// storageBackend is the --backend flag when set, the configured backend otherwise.
func (o *rootOptions) storageBackend() string {
	if o.backend != "" {
		return o.backend
	}
	return o.cfg.GetStorageBackend()
}

// NewRootCommand builds the sessionctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and manage the persisted authentication session",
		Long: `sessionctl reads and writes the session shared by every process that uses
the same credential storage. It can log a token pair in, renew it against the
identity provider, resolve the user profile and watch for changes made by
other processes.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Variables already in the environment are not overridden.
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("env file %s: %w", opts.envFile, err)
			}

			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			level := opts.logLevel
			if level == "" {
				level = cfg.GetLogLevel()
			}
			return opts.setupLogging(cmd.ErrOrStderr(), level)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logFile != nil {
				return opts.logFile.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", config.GetEnv("CONFIG_PATH", ""),
		"YAML config file (default: CONFIG_PATH env var)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"optional dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", "",
		"credential storage backend (memory, file, redis); overrides STORAGE_BACKEND")

	rootCmd.AddCommand(
		newStatusCommand(opts),
		newLoginCommand(opts),
		newRefreshCommand(opts),
		newWhoamiCommand(opts),
		newLogoutCommand(opts),
		newWatchCommand(opts),
	)
	return rootCmd
}

func (o *rootOptions) setupLogging(stderr io.Writer, level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}}
	if path := o.cfg.GetLogFile(); path != "" {
		o.logFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		writers = append(writers, o.logFile)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("app", o.cfg.GetAppName()).
		Str("env", o.cfg.GetEnv()).
		Logger()
	return nil
}
