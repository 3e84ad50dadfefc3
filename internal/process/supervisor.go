package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout is how long children get to exit after the
// termination signal before they are killed.
const DefaultShutdownTimeout = 10 * time.Second

const (
	// abortKillTimeout bounds a failed start when no shutdown timeout is set.
	abortKillTimeout = 2 * time.Second

	// groupDrainGrace is how long Wait keeps polling process groups after
	// the kill escalation would have fired.
	groupDrainGrace = 2 * time.Second

	groupPollInterval = 25 * time.Millisecond
)

// Spec describes a child to spawn.
type Spec struct {
	// Name is the logical role of the child, e.g. "server".
	Name string
	// Command is argv; Command[0] is resolved through PATH.
	Command []string
	// Dir is the working directory. Empty means the supervisor's.
	Dir string
	// Env is the complete child environment. Nil inherits the supervisor's.
	Env []string
}

// ErrEmptyCommand is returned for a Spec without a command.
var ErrEmptyCommand = errors.New("empty command")

// child is the supervisor's bookkeeping for one spawned process.
type child struct {
	proc    *Process
	settled chan struct{}
	status  ExitStatus
}

// Supervisor owns a fixed set of child processes.
//
// Typical use is StartAll, then Await until a trigger arrives, then
// Shutdown, then Wait. Supervisor is safe for concurrent use, except that
// StartAll must return before Shutdown is called.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*child
	order     []*child
	exited    []*child

	state   lifecycle
	latch   *ShutdownLatch
	started atomic.Bool

	// live counts spawned children that have not settled, plus one token
	// held by StartAll so allExited cannot close mid-start.
	live       atomic.Int32
	exits      chan *Process
	allExited  chan struct{}
	broadcasts atomic.Int32
	delivery   []error

	logger        *zap.Logger
	group         bool
	termSignal    os.Signal
	timeout       time.Duration
	stdout        io.Writer
	stderr        io.Writer
	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProcessGroup controls whether each child leads its own process
// group and is signalled as a group. Enabled by default.
func WithProcessGroup(enabled bool) SupervisorOption {
	return func(s *Supervisor) {
		s.group = enabled
	}
}

// WithShutdownSignal sets the signal broadcast on shutdown. Default SIGTERM.
func WithShutdownSignal(sig os.Signal) SupervisorOption {
	return func(s *Supervisor) {
		if sig != nil {
			s.termSignal = sig
		}
	}
}

// WithShutdownTimeout sets how long children get before they are killed.
// Zero disables the kill escalation.
func WithShutdownTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.timeout = d
	}
}

// WithOutput sets where child stdout and stderr go. The defaults are the
// supervisor's own streams.
func WithOutput(stdout, stderr io.Writer) SupervisorOption {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:  make(map[string]*child),
		allExited:  make(chan struct{}),
		latch:      NewShutdownLatch(),
		logger:     zap.NewNop(),
		group:      true,
		termSignal: syscall.SIGTERM,
		timeout:    DefaultShutdownTimeout,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// StartAll spawns every child in order.
//
// If any spawn fails, the children already started are terminated and
// reaped, the supervisor moves to LifecycleStopped and a *SpawnError is
// returned. On success the supervisor is LifecycleRunning.
func (s *Supervisor) StartAll(specs ...Spec) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.exits = make(chan *Process, len(specs))
	s.live.Store(1)
	defer s.release()

	if len(specs) == 0 {
		s.state.transition(LifecycleStarting, LifecycleStopped)
		return ErrNoChildren
	}

	for _, spec := range specs {
		if _, err := s.spawn(spec); err != nil {
			serr := &SpawnError{Name: spec.Name, Command: spec.Command, Err: err}
			s.logger.Error("spawn failed", zap.String("name", spec.Name), zap.Error(err))
			s.abortStart()
			s.state.transition(LifecycleStarting, LifecycleStopped)
			return serr
		}
	}

	s.state.transition(LifecycleStarting, LifecycleRunning)
	return nil
}

// release drops one live reference and closes allExited on the last.
func (s *Supervisor) release() {
	if s.live.Add(-1) == 0 {
		close(s.allExited)
	}
}

func (s *Supervisor) spawn(spec Spec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	setProcAttr(cmd, s.group)

	proc := NewProcess(uuid.New().String(), spec.Name, cmd)
	proc.group = s.group

	// Start before tracking so failed starts are never tracked.
	s.live.Add(1)
	if err := proc.start(); err != nil {
		s.live.Add(-1)
		return nil, err
	}

	c := &child{proc: proc, settled: make(chan struct{})}
	s.mu.Lock()
	s.processes[proc.ID] = c
	s.order = append(s.order, c)
	s.mu.Unlock()

	s.logger.Info("child started",
		zap.String("name", proc.Name),
		zap.String("id", proc.ID),
		zap.Int("pid", proc.PID()),
		zap.Strings("command", spec.Command),
	)

	go s.monitorProcess(c)

	return proc, nil
}

// abortStart terminates and reaps whatever StartAll managed to spawn.
func (s *Supervisor) abortStart() {
	s.latch.Request("spawn failure")
	s.broadcast()

	s.mu.RLock()
	children := append([]*child(nil), s.order...)
	s.mu.RUnlock()

	timeout := s.timeout
	if timeout <= 0 {
		timeout = abortKillTimeout
	}
	s.killAfter(children, timeout)
	for _, c := range children {
		<-c.settled
	}
}

// monitorProcess records a child's exit once it has been reaped.
func (s *Supervisor) monitorProcess(c *child) {
	p := c.proc
	<-p.Done()

	c.status = s.classify(p, s.latch.Requested())
	s.mu.Lock()
	s.exited = append(s.exited, c)
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("name", p.Name),
		zap.Int("pid", p.PID()),
		zap.Int("code", c.status.Code),
		zap.Duration("runtime", c.status.Runtime),
	}
	if p.Signaled() {
		fields = append(fields, zap.Stringer("signal", p.Signal()))
	}
	if c.status.Clean {
		s.logger.Info("child exited", fields...)
	} else {
		s.logger.Warn("child exited with error", fields...)
	}

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("exit callback panicked", zap.Any("panic", r))
				}
			}()
			s.onProcessExit(p)
		}()
	}

	close(c.settled)
	s.exits <- p
	s.release()
}

// classify decides whether an exit counts as a failure. Once termination
// has been requested, dying by the termination or kill signal is expected.
func (s *Supervisor) classify(p *Process, shutdown bool) ExitStatus {
	st := ExitStatus{
		ID:       p.ID,
		Name:     p.Name,
		PID:      p.PID(),
		Code:     p.ExitCode(),
		Signal:   p.Signal(),
		Runtime:  p.Runtime(),
		Shutdown: shutdown,
	}

	switch {
	case st.Code == 0:
		st.Clean = true
	case shutdown && s.expectedOnShutdown(st):
		st.Clean = true
	}

	if !st.Clean {
		cerr := &ChildExitedWithError{Name: p.Name, PID: st.PID, Code: st.Code, Err: p.ExitError()}
		if p.Signaled() {
			cerr.Signal = p.Signal()
		}
		st.Err = cerr
	}
	return st
}

func (s *Supervisor) expectedOnShutdown(st ExitStatus) bool {
	expected := []syscall.Signal{syscall.SIGKILL, syscall.SIGTERM, syscall.SIGINT}
	if sig, ok := s.termSignal.(syscall.Signal); ok {
		expected = append(expected, sig)
	}
	for _, sig := range expected {
		if st.Signal == sig || st.Code == 128+int(sig) {
			return true
		}
	}
	return false
}

// Await blocks until a signal arrives on signals, a child exits, every
// child has exited, or ctx is done. Each child exit is reported once, so
// Await may be called repeatedly.
func (s *Supervisor) Await(ctx context.Context, signals <-chan os.Signal) Trigger {
	for {
		select {
		case p := <-s.exits:
			return Trigger{Kind: TriggerChildExit, Process: p}
		default:
		}

		select {
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			return Trigger{Kind: TriggerSignal, Signal: sig}
		case p := <-s.exits:
			return Trigger{Kind: TriggerChildExit, Process: p}
		case <-s.allExited:
			select {
			case p := <-s.exits:
				return Trigger{Kind: TriggerChildExit, Process: p}
			default:
			}
			return Trigger{Kind: TriggerAllExited}
		case <-ctx.Done():
			return Trigger{Kind: TriggerContext, Err: ctx.Err()}
		}
	}
}

// Shutdown requests termination. The first call broadcasts the
// termination signal to every running child and arms the kill
// escalation; it returns true. Later calls do nothing and return false.
// Shutdown never blocks on the children.
func (s *Supervisor) Shutdown(reason string) bool {
	if !s.latch.Request(reason) {
		s.logger.Debug("already shutting down", zap.String("reason", reason))
		return false
	}

	s.state.transition(LifecycleRunning, LifecycleShuttingDown)
	s.broadcast()

	if s.timeout > 0 {
		s.mu.RLock()
		children := append([]*child(nil), s.order...)
		s.mu.RUnlock()
		go s.killAfter(children, s.timeout)
	}
	return true
}

// broadcast sends the termination signal to every tracked running child
// before anything waits on them.
func (s *Supervisor) broadcast() {
	s.broadcasts.Add(1)

	s.mu.RLock()
	children := append([]*child(nil), s.order...)
	s.mu.RUnlock()

	for _, c := range children {
		p := c.proc
		if !p.IsRunning() && !p.hasGroupMembers() {
			continue
		}
		if err := p.Send(s.termSignal); err != nil {
			derr := &SignalDeliveryError{Name: p.Name, PID: p.PID(), Signal: s.termSignal, Err: err}
			s.logger.Warn("signal delivery failed", zap.Error(derr))
			s.mu.Lock()
			s.delivery = append(s.delivery, derr)
			s.mu.Unlock()
			continue
		}
		s.logger.Debug("signal sent",
			zap.String("name", p.Name),
			zap.Int("pid", p.PID()),
			zap.Stringer("signal", s.termSignal),
		)
	}
}

// killAfter kills any of children still running, or still leaving
// members in their process group, once timeout elapses.
func (s *Supervisor) killAfter(children []*child, timeout time.Duration) {
	if timeout <= 0 || len(children) == 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if drained(children) {
				return
			}
		case <-timer.C:
			for _, c := range children {
				p := c.proc
				if !p.IsRunning() && !p.hasGroupMembers() {
					continue
				}
				s.logger.Warn("child did not exit in time, killing",
					zap.String("name", p.Name),
					zap.Int("pid", p.PID()),
					zap.Bool("leader_exited", p.HasExited()),
					zap.Duration("timeout", timeout),
				)
				if err := p.Kill(); err != nil {
					s.logger.Error("kill failed", zap.String("name", p.Name), zap.Error(err))
				}
			}
			return
		}
	}
}

// drained reports whether every child has settled and left no process
// group members behind.
func drained(children []*child) bool {
	for _, c := range children {
		select {
		case <-c.settled:
		default:
			return false
		}
		if c.proc.hasGroupMembers() {
			return false
		}
	}
	return true
}

// awaitGroups waits for the process groups of exited children to empty.
// Members still present trigger a shutdown, so nothing a child forked
// outlives the supervisor unsignalled. The wait is bounded by the
// shutdown timeout plus groupDrainGrace.
func (s *Supervisor) awaitGroups(children []*child) {
	if !s.group || drained(children) {
		return
	}

	s.Shutdown("process group members outlived their leader")

	deadline := time.Now().Add(s.timeout + groupDrainGrace)
	for !drained(children) {
		if time.Now().After(deadline) {
			for _, c := range children {
				if c.proc.hasGroupMembers() {
					s.logger.Warn("process group still has members",
						zap.String("name", c.proc.Name),
						zap.Int("pgid", c.proc.PID()),
					)
				}
			}
			return
		}
		time.Sleep(groupPollInterval)
	}
}

// Wait blocks until every child has exited and been reaped, then moves
// the supervisor to LifecycleStopped. Each child is joined as its own
// task; the first failure is kept without dropping the others.
func (s *Supervisor) Wait() *Report {
	report := &Report{}
	if !s.started.Load() {
		s.state.transition(LifecycleStarting, LifecycleStopped)
		return report
	}

	s.mu.RLock()
	children := append([]*child(nil), s.order...)
	s.mu.RUnlock()

	var g errgroup.Group
	for _, c := range children {
		g.Go(func() error {
			<-c.settled
			return c.status.Err
		})
	}
	report.first = g.Wait()
	<-s.allExited
	s.awaitGroups(children)

	s.mu.RLock()
	for _, c := range s.exited {
		report.Statuses = append(report.Statuses, c.status)
	}
	report.Delivery = append(report.Delivery, s.delivery...)
	s.mu.RUnlock()

	if !s.state.transition(LifecycleShuttingDown, LifecycleStopped) {
		s.state.transition(LifecycleRunning, LifecycleStopped)
	}
	return report
}

// State returns the supervisor's lifecycle state.
func (s *Supervisor) State() Lifecycle {
	return s.state.load()
}

// Latch returns the termination latch.
func (s *Supervisor) Latch() *ShutdownLatch {
	return s.latch
}

// IsShuttingDown returns true once termination has been requested.
func (s *Supervisor) IsShuttingDown() bool {
	return s.latch.Requested()
}

// Done is closed once every spawned child has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.allExited
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.processes[id]; ok {
		return c.proc
	}
	return nil
}

// GetByName returns the first process with the given name, or nil.
func (s *Supervisor) GetByName(name string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.order {
		if c.proc.Name == name {
			return c.proc
		}
	}
	return nil
}

// List returns every spawned process in spawn order.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.order))
	for _, c := range s.order {
		result = append(result, c.proc)
	}
	return result
}

// Count returns the number of spawned processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Running returns the number of processes still running.
func (s *Supervisor) Running() int {
	n := 0
	for _, p := range s.List() {
		if p.IsRunning() {
			n++
		}
	}
	return n
}

// Snapshot returns an Info per spawned process in spawn order.
func (s *Supervisor) Snapshot() []Info {
	procs := s.List()
	infos := make([]Info, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, p.Info())
	}
	return infos
}
