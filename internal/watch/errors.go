// Package watch delivers change notifications to observers
package watch

import "errors"

var (
	// ErrTooManyObservers is returned when a registry exceeds its observer limit
	ErrTooManyObservers = errors.New("too many observers")

	// ErrObserverNotFound is returned when an observer ID is not found
	ErrObserverNotFound = errors.New("observer not found")

	// ErrInvalidPattern is returned when a watch pattern is invalid
	ErrInvalidPattern = errors.New("invalid watch pattern")

	// ErrNilHandler is returned when registering a nil handler
	ErrNilHandler = errors.New("nil event handler")
)
