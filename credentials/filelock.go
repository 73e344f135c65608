package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/spf13/afero"
)

const (
	lockRetryDelay = 10 * time.Millisecond
	lockTimeout    = 5 * time.Second
	// A lock older than this was left behind by a process that died mid-write.
	staleLockAge = 30 * time.Second
)

// fileLock is an exclusively created file next to the token file. Holding it
// serialises read-modify-write cycles across processes.
type fileLock struct {
	fs   afero.Fs
	path string
}

func acquireFileLock(ctx context.Context, fs afero.Fs, path string) (*fileLock, error) {
	lockPath := path + ".lock"
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	err := retry.Do(
		func() error {
			f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if errors.Is(err, os.ErrExist) {
				removeStaleLock(fs, lockPath)
				return err
			}
			if err != nil {
				return retry.Unrecoverable(err)
			}
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			if err := f.Close(); err != nil {
				_ = fs.Remove(lockPath)
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(lockRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire lock %s: %v", apperrors.ErrStorageUnavailable, lockPath, err)
	}
	return &fileLock{fs: fs, path: lockPath}, nil
}

func (l *fileLock) release() error {
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func removeStaleLock(fs afero.Fs, lockPath string) {
	info, err := fs.Stat(lockPath)
	if err != nil || time.Since(info.ModTime()) < staleLockAge {
		return
	}
	_ = fs.Remove(lockPath)
}
