package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrControllerNotFound matches any *ResolutionError.
	ErrControllerNotFound = errors.New("controller not found")
	// ErrNoResolver is the cause of a ResolutionError when no resolver is installed.
	ErrNoResolver = errors.New("no controller resolver installed")
	// ErrNoControllerAttribute is returned for hosts that do not name a controller.
	ErrNoControllerAttribute = errors.New("host has no controller attribute")
)

// ResolutionError is returned when a controller name is neither registered
// nor resolvable.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("controller %q not found: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrControllerNotFound) match.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrControllerNotFound
}

// IsNotFound returns true if err is a controller resolution failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrControllerNotFound)
}
