package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	StorageConfig
	OAuthConfig
	RefreshConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLogFile() string
}

type mainConfig struct {
	EnvVars
	Storage
	OAuth
	Refresh
}

// New returns a Config that reads environment variables only.
func New() Config {
	return newMainConfig(nil)
}

// Load returns a Config backed by a YAML file of KEY: value pairs. Keys use the
// environment variable names (case-insensitive) and environment variables take
// precedence over the file.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load read %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config.Load parse %s: %w", path, err)
	}

	values := make(source, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case []any:
			parts := make([]string, 0, len(tv))
			for _, p := range tv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			values[strings.ToUpper(k)] = fmt.Sprint(tv)
		}
	}
	return newMainConfig(values), nil
}

func newMainConfig(values source) mainConfig {
	return mainConfig{
		EnvVars: EnvVars{src: values},
		Storage: Storage{src: values},
		OAuth:   OAuth{src: values},
		Refresh: Refresh{src: values},
	}
}

// source holds values loaded from a config file, keyed by env var name.
type source map[string]string

func (s source) get(envVar, defaultValue string) string {
	if value := GetEnv(envVar, ""); value != "" {
		return value
	}
	if value, ok := s[envVar]; ok && value != "" {
		return value
	}
	return defaultValue
}
