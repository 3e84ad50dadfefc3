//go:build unix

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// TerminationSignals returns the signals the supervisor treats as a
// termination request.
func TerminationSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM}
}

// setProcAttr places the child in its own process group when group is set,
// so a signal sent to -pid also reaches anything the child forks.
func setProcAttr(cmd *exec.Cmd, group bool) {
	if !group {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalProcess delivers sig to proc, or to its whole process group.
func signalProcess(proc *os.Process, group bool, sig os.Signal) error {
	if !group {
		return proc.Signal(sig)
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal type %T", sig)
	}
	err := unix.Kill(-proc.Pid, s)
	if err == unix.ESRCH {
		return os.ErrProcessDone
	}
	return err
}

// groupAlive reports whether the process group led by pid still has
// members. The pgid of a reaped leader cannot be reused while any remain.
func groupAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(-pid, 0)
	return err == nil || err == unix.EPERM
}

// ParseSignal resolves a signal name such as "SIGTERM", "TERM" or "term".
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig := unix.SignalNum(n)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
