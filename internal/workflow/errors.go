package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy. Callers classify
// failures with errors.Is; the API layer maps them to HTTP statuses.
var (
	// ErrParse indicates a malformed or absent process definition, or a
	// graph node the definition does not contain.
	ErrParse = errors.New("process definition error")
	// ErrResolution indicates that no eligible assignee exists for a node
	// that is not skip-eligible.
	ErrResolution = errors.New("assignee resolution error")
	// ErrTransition indicates an illegal state transition.
	ErrTransition = errors.New("illegal transition")
	// ErrNotFound indicates an unknown instance, task or definition.
	ErrNotFound = errors.New("not found")
)

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

func resolutionErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResolution, fmt.Sprintf(format, args...))
}

func transitionErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransition, fmt.Sprintf(format, args...))
}

func notFoundErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
