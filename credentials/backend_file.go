package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var _ Backend = (*FileBackend)(nil)

// fileDocument is the JSON body of the token file.
type fileDocument struct {
	Origin string            `json:"origin,omitempty"`
	Values map[string]string `json:"values"`
}

// FileBackend keeps all keys in one file, replaced with a temp-file + rename so
// a reader never sees a partially written document. Writers in other processes
// are excluded with a lock file and detected by polling the file content.
type FileBackend struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	sealer   *sealer
	log      zerolog.Logger

	mu sync.Mutex // serialises read-modify-write within this process
}

type FileOption func(*FileBackend)

// WithPollInterval sets how often Subscribe checks the file for external writes.
func WithPollInterval(d time.Duration) FileOption {
	return func(b *FileBackend) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithPassphrase seals the file with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(b *FileBackend) {
		if passphrase != "" {
			b.sealer = newSealer(passphrase)
		}
	}
}

func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(b *FileBackend) {
		b.log = logger
	}
}

func NewFileBackend(fs afero.Fs, path string, options ...FileOption) *FileBackend {
	b := &FileBackend{
		fs:       fs,
		path:     path,
		interval: time.Second,
		log:      log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	b.log = b.log.With().Str("component", "file_backend").Str("path", path).Logger()
	return b
}

func (b *FileBackend) Get(_ context.Context, keys ...string) (map[string]string, error) {
	doc, err := b.read()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := doc.Values[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (b *FileBackend) Write(ctx context.Context, origin string, batch Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err)
	}
	lock, err := acquireFileLock(ctx, b.fs, b.path)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.release(); err != nil {
			b.log.Warn().Err(err).Msg("Failed to release token file lock")
		}
	}()

	doc, err := b.read()
	if apperrors.Is(err, apperrors.ErrMalformedRecord) || apperrors.Is(err, apperrors.ErrSealedRecord) {
		b.log.Warn().Err(err).Msg("Overwriting unreadable token file")
		doc, err = fileDocument{Values: map[string]string{}}, nil
	}
	if err != nil {
		return err
	}

	for k, v := range batch.Set {
		doc.Values[k] = v
	}
	for _, k := range batch.Delete {
		delete(doc.Values, k)
	}
	doc.Origin = origin

	data, err := b.encode(doc)
	if err != nil {
		return err
	}
	return b.replace(data)
}

func (b *FileBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	last, err := b.readRaw()
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := b.readRaw()
				if err != nil {
					b.log.Warn().Err(err).Msg("Token file poll failed")
					continue
				}
				if bytes.Equal(data, last) {
					continue
				}
				last = data

				change := Change{}
				if doc, err := b.decode(data); err == nil {
					change.Origin = doc.Origin
				}
				notify(ch, change)
			}
		}
	}()
	return ch, nil
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) read() (fileDocument, error) {
	data, err := b.readRaw()
	if err != nil {
		return fileDocument{}, err
	}
	if data == nil {
		return fileDocument{Values: map[string]string{}}, nil
	}
	return b.decode(data)
}

// readRaw returns nil content when the file does not exist.
func (b *FileBackend) readRaw() ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err)
	}
	return data, nil
}

func (b *FileBackend) decode(data []byte) (fileDocument, error) {
	if b.sealer != nil {
		plain, err := b.sealer.open(data)
		if err != nil {
			return fileDocument{}, err
		}
		data = plain
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fileDocument{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc, nil
}

func (b *FileBackend) encode(doc fileDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token file: %w", err)
	}
	if b.sealer == nil {
		return data, nil
	}
	return b.sealer.seal(data)
}

// replace must run under the file lock.
func (b *FileBackend) replace(data []byte) error {
	temp, err := afero.TempFile(b.fs, filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", apperrors.ErrStorageUnavailable, err)
	}
	tempFile := temp.Name()

	_, err = temp.Write(data)
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = b.fs.Rename(tempFile, b.path)
	}
	if err != nil {
		if removeErr := b.fs.Remove(tempFile); removeErr != nil {
			return fmt.Errorf("%w: failed to replace token file: %v; additionally failed to remove temp file: %v",
				apperrors.ErrStorageUnavailable, err, removeErr)
		}
		return fmt.Errorf("%w: failed to replace token file: %v", apperrors.ErrStorageUnavailable, err)
	}
	return nil
}
