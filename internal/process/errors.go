package process

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrAlreadyStarted is returned when StartAll is called more than once.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrNoChildren is returned when StartAll is given nothing to run.
	ErrNoChildren = errors.New("no children to start")
)

// SpawnError reports a child that could not be started.
type SpawnError struct {
	Name    string   // logical child name
	Command []string // argv that was attempted
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// SignalDeliveryError reports a termination signal that could not be
// delivered. It is logged; shutdown continues regardless.
type SignalDeliveryError struct {
	Name   string
	PID    int
	Signal os.Signal
	Err    error
}

func (e *SignalDeliveryError) Error() string {
	return fmt.Sprintf("deliver %v to %s (pid %d): %v", e.Signal, e.Name, e.PID, e.Err)
}

func (e *SignalDeliveryError) Unwrap() error {
	return e.Err
}

// ChildExitedWithError reports a child that ended unsuccessfully.
type ChildExitedWithError struct {
	Name   string
	PID    int
	Code   int
	Signal os.Signal // non-nil if the child died by a signal
	Err    error     // error from Wait, if any
}

func (e *ChildExitedWithError) Error() string {
	if e.Signal != nil {
		return fmt.Sprintf("%s (pid %d) killed by %v", e.Name, e.PID, e.Signal)
	}
	return fmt.Sprintf("%s (pid %d) exited with code %d", e.Name, e.PID, e.Code)
}

func (e *ChildExitedWithError) Unwrap() error {
	return e.Err
}
