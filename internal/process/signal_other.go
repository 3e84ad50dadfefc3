//go:build !unix

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// TerminationSignals returns the signals the supervisor treats as a
// termination request. Only interrupt can be caught off unix.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// setProcAttr is a no-op; process groups are a unix concept.
func setProcAttr(cmd *exec.Cmd, group bool) {}

// signalProcess delivers sig to proc. There are no groups to signal, and
// SIGKILL maps to Process.Kill.
func signalProcess(proc *os.Process, group bool, sig os.Signal) error {
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return proc.Signal(sig)
}

// groupAlive is always false without process groups.
func groupAlive(pid int) bool { return false }

// ParseSignal resolves the few signal names meaningful off unix.
func ParseSignal(name string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "TERM":
		return syscall.SIGTERM, nil
	case "INT":
		return syscall.SIGINT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}
