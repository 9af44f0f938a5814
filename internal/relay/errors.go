package relay

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrMissingIdentity   = errors.New("caller has no identity")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrUnknownUser       = errors.New("unknown user")
)

// UnknownUserError names the id that resolved to no profile.
type UnknownUserError struct {
	ID string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user %q", e.ID)
}

func (e *UnknownUserError) Is(target error) bool {
	return target == ErrUnknownUser
}
