package config

import (
	"os"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
	logFileVar  = "LOG_FILE"
)

type EnvVars struct {
	src source
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.src.get(appNameVar, "Session Control")
}

func (e EnvVars) GetEnv() string {
	return e.src.get(envVar, "DEV")
}

// GetLogLevel returns a zerolog level name (debug, info, warn, error)
func (e EnvVars) GetLogLevel() string {
	return e.src.get(logLevelVar, "info")
}

// GetLogFile returns the path of a rotated log file, empty for console only
func (e EnvVars) GetLogFile() string {
	return e.src.get(logFileVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
