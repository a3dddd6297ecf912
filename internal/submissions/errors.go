package submissions

import (
	"errors"
	"strings"
)

var (
	// ErrRoleNotAvailable covers every chain failure alike: a missing role and
	// one that belongs to another production or organization.
	ErrRoleNotAvailable   = errors.New("this role is not available for submissions")
	ErrInvalidApplication = errors.New("invalid application")
	ErrConflict           = errors.New("a concurrent submission conflicted, please try again")
	ErrNotFound           = errors.New("not found")
)

// ValidationError lists the fields that failed validation. It matches ErrInvalidApplication.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidApplication.Error() + ": " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidApplication }
