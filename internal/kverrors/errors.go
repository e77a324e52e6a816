// Package kverrors defines the error taxonomy shared by codecs, backends and collections
package kverrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when a key fails validation
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue is returned when a value has an unsupported shape
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidTable is returned when a collection name is not a valid identifier
	ErrInvalidTable = errors.New("invalid table name")

	// ErrTypeMismatch is returned when a stored value has the wrong shape for an operation
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrCodec marks a decode failure. Collections recover from it and never return it.
	ErrCodec = errors.New("codec failure")

	// ErrCrypto is returned when sealed data cannot be decrypted or decompressed
	ErrCrypto = errors.New("crypto failure")

	// ErrBackendUnavailable is returned when the storage medium rejects an operation
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnsupported is returned when a backend does not implement an optional capability
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrClosed is returned when a closed database or backend is used
	ErrClosed = errors.New("closed")
)

// TypeMismatchError reports which operation found which shape under a key
type TypeMismatchError struct {
	Key      string
	Op       string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s '%s': expected %s, found %s", e.Op, e.Key, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrTypeMismatch) match
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// BackendError wraps a failure reported by a storage medium
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrBackendUnavailable) match
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// Backend wraps err as a BackendError. A nil err stays nil.
func Backend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// InvalidKey builds an ErrInvalidKey with a reason
func InvalidKey(key, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidKey, key, reason)
}

// InvalidValue builds an ErrInvalidValue with a reason
func InvalidValue(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, reason)
}

// IsTypeMismatch checks if an error is a type mismatch
func IsTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}

// IsCrypto checks if an error is a crypto failure
func IsCrypto(err error) bool {
	return errors.Is(err, ErrCrypto)
}

// IsBackendUnavailable checks if an error came from the storage medium
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsValidation checks if an error was raised by key or value validation
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidValue) || errors.Is(err, ErrInvalidTable)
}
