package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/process"
)

// Exit codes returned by Run and the tandem command.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfig        = 2
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNoConfig indicates New was given no configuration.
	ErrNoConfig = errors.New("no configuration")
)

// ComponentError represents an error from a specific component.
type ComponentError struct {
	Component string // Component name (e.g., "status", "supervisor")
	Action    string // Action being performed
	Err       error  // Underlying error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{
		Component: component,
		Action:    action,
		Err:       err,
	}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}

	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}

	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExitCodeFor maps an error to a process exit code, following the shell
// conventions for commands that cannot be found or executed.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var verr *config.ValidationError
	if errors.As(err, &verr) || errors.Is(err, config.ErrFileNotFound) {
		return ExitConfig
	}

	var serr *process.SpawnError
	if errors.As(err, &serr) {
		switch {
		case errors.Is(serr.Err, exec.ErrNotFound), errors.Is(serr.Err, fs.ErrNotExist):
			return ExitNotFound
		case errors.Is(serr.Err, fs.ErrPermission):
			return ExitNotExecutable
		default:
			return ExitFailure
		}
	}

	var cerr *process.ChildExitedWithError
	if errors.As(err, &cerr) && cerr.Code > 0 {
		return cerr.Code
	}

	return ExitFailure
}
