package api

import "errors"

var (
	// ErrDuplicateMethod is returned when a method name is registered twice.
	ErrDuplicateMethod = errors.New("method already registered")
	// ErrInvalidHook is returned when a hook setter receives an unusable hook.
	ErrInvalidHook = errors.New("invalid hook")
	// ErrInvalidMethod is returned when registering without a name or handler.
	ErrInvalidMethod = errors.New("invalid method")
)
