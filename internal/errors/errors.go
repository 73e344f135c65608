package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Storage errors
	ErrStorageUnavailable = errors.New("credential storage unavailable")
	ErrMalformedRecord    = errors.New("malformed credential record")
	ErrSealedRecord       = errors.New("credential record cannot be unsealed")

	// Refresh errors
	ErrRefreshTerminal  = errors.New("refresh token rejected")
	ErrRefreshTransient = errors.New("refresh temporarily unavailable")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrSessionReplaced  = errors.New("session replaced during refresh")

	// Identity provider errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
