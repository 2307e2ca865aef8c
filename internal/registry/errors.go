package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey matches any *DuplicateKeyError.
	ErrDuplicateKey = errors.New("registry: duplicate key")
	// ErrInvalidConfig is returned by New for unusable options.
	ErrInvalidConfig = errors.New("registry: invalid configuration")
	// ErrKeySpaceExhausted is returned when every possible key is in use.
	ErrKeySpaceExhausted = errors.New("registry: key space exhausted")
	// ErrTooManyAttempts is returned when a bounded Generate gives up.
	ErrTooManyAttempts = errors.New("registry: too many key generation attempts")
)

// DuplicateKeyError is returned when inserting under a key that is in use.
type DuplicateKeyError struct {
	Op  string
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("registry: %s: key %q already exists", e.Op, e.Key)
}

// Is lets errors.Is(err, ErrDuplicateKey) match.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// IsDuplicateKey returns true if err is, or wraps, a *DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}
