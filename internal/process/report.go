package process

import (
	"errors"
	"syscall"
	"time"
)

// ExitStatus is how one child ended.
type ExitStatus struct {
	ID       string
	Name     string
	PID      int
	Code     int
	Signal   syscall.Signal // 0 unless the child died by a signal
	Runtime  time.Duration
	Shutdown bool  // the child exited after termination was requested
	Clean    bool  // the exit does not count as a failure
	Err      error // *ChildExitedWithError when !Clean
}

// Report collects the exit statuses gathered by Supervisor.Wait.
type Report struct {
	// Statuses are in exit order.
	Statuses []ExitStatus

	// Delivery holds termination signals that could not be delivered.
	Delivery []error

	first error
}

// Clean reports whether every child ended without failure.
func (r *Report) Clean() bool {
	for _, st := range r.Statuses {
		if !st.Clean {
			return false
		}
	}
	return true
}

// FirstFailure returns the first child failure observed, or nil.
func (r *Report) FirstFailure() error {
	if r.first != nil {
		return r.first
	}
	for _, st := range r.Statuses {
		if !st.Clean {
			return st.Err
		}
	}
	return nil
}

// Err joins every child failure, first failure first.
func (r *Report) Err() error {
	var errs []error
	if r.first != nil {
		errs = append(errs, r.first)
	}
	for _, st := range r.Statuses {
		if !st.Clean && st.Err != r.first {
			errs = append(errs, st.Err)
		}
	}
	return errors.Join(errs...)
}

// ExitCode is the code the supervisor itself should exit with: 0 when
// every child was clean, otherwise the first failing child's code, or 1
// when that code is not positive.
func (r *Report) ExitCode() int {
	err := r.FirstFailure()
	if err == nil {
		return 0
	}
	var cerr *ChildExitedWithError
	if errors.As(err, &cerr) && cerr.Code > 0 {
		return cerr.Code
	}
	return 1
}

// Status returns the status of the named child.
func (r *Report) Status(name string) (ExitStatus, bool) {
	for _, st := range r.Statuses {
		if st.Name == name {
			return st, true
		}
	}
	return ExitStatus{}, false
}
