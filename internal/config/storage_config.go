package config

import (
	"path/filepath"
	"time"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetTokenFile() string
	GetSealPassphrase() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisPrefix() string
	GetWatchInterval() time.Duration
}

type Storage struct {
	src source
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageBackend() string {
	return s.src.get("STORAGE_BACKEND", BackendFile)
}

func (s Storage) GetTokenFile() string {
	return s.src.get("TOKEN_FILE", filepath.Join(".", "data", "session.json"))
}

// GetSealPassphrase enables at-rest sealing of the token file when non-empty
func (s Storage) GetSealPassphrase() string {
	return s.src.get("TOKEN_FILE_PASSPHRASE", "")
}

func (s Storage) GetRedisAddr() string {
	return s.src.get("REDIS_ADDR", "localhost:6379")
}

func (s Storage) GetRedisPassword() string {
	return s.src.get("REDIS_PASSWORD", "")
}

func (s Storage) GetRedisPrefix() string {
	return s.src.get("REDIS_PREFIX", "session:")
}

// GetWatchInterval is the polling interval of the file backend
func (s Storage) GetWatchInterval() time.Duration {
	return parseDuration(s.src.get("WATCH_INTERVAL", ""), time.Second)
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
