package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a child process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process exited on its own with a status code.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is one child owned by a Supervisor.
//
// Process wraps an exec.Cmd with exit tracking. The child is reaped by a
// single wait goroutine, which closes Done once the exit status is known.
// It is safe for concurrent use.
type Process struct {
	// ID is the unique identifier assigned by the supervisor.
	ID string

	// Name is the logical role of the child, e.g. "server".
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	// group is true when the child leads its own process group and
	// signals are delivered to the whole group.
	group bool

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32
	signal   atomic.Int32

	mu      sync.RWMutex
	exitErr error
	exited  time.Time

	waitOnce sync.Once
}

// NewProcess creates a new Process wrapping the given command.
//
// The command must not be started yet. Use Supervisor.StartAll to start
// it with proper tracking.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 if the process has not exited.
// A child killed by a signal reports 128+signal, matching shell convention.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Signaled reports whether the process was terminated by a signal.
func (p *Process) Signaled() bool {
	return p.signal.Load() != 0
}

// Signal returns the signal that terminated the process, or 0.
func (p *Process) Signal() syscall.Signal {
	return syscall.Signal(p.signal.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has exited (normally or killed).
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Send delivers sig to the child, or to its process group when the child
// was started as a group leader. A child or group that is already gone is
// not an error.
func (p *Process) Send(sig os.Signal) error {
	if p.State() == StateCreated || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	// A group outlives its reaped leader, so it is still signalled.
	if p.HasExited() && !p.group {
		return nil
	}
	err := signalProcess(p.Cmd.Process, p.group, sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// hasGroupMembers reports whether the child leads a process group that
// still has members, whether or not the child itself has exited.
func (p *Process) hasGroupMembers() bool {
	return p.group && groupAlive(p.PID())
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Send(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Send(syscall.SIGTERM)
}

// start starts the process and begins reaping it.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return err
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()

	return nil
}

// waitLoop waits for the process to exit and records how it ended.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		exitCode := 0
		state := StateExited
		var sig syscall.Signal

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
					sig = status.Signal()
					exitCode = 128 + int(sig)
				}
			} else {
				exitCode = -1
			}
		}

		p.mu.Lock()
		p.exitErr = err
		p.exited = time.Now()
		p.mu.Unlock()

		p.signal.Store(int32(sig))
		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Runtime returns how long the process has been running, or its total
// runtime once it has exited.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	p.mu.RLock()
	exited := p.exited
	p.mu.RUnlock()
	if !exited.IsZero() {
		return exited.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// Info is a point-in-time view of a child, used by status reporting.
type Info struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	PID      int           `json:"pid"`
	State    string        `json:"state"`
	ExitCode int           `json:"exit_code"`
	Started  time.Time     `json:"started"`
	Runtime  time.Duration `json:"runtime_ns"`
}

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	return Info{
		ID:       p.ID,
		Name:     p.Name,
		PID:      p.PID(),
		State:    p.State().String(),
		ExitCode: p.ExitCode(),
		Started:  p.Started,
		Runtime:  p.Runtime(),
	}
}
