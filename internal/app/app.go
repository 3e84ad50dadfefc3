// Package app runs the supervisor: it starts the children, waits for a
// termination trigger, shuts down and reports how everything ended.
package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/process"
	"github.com/dshills/tandem/internal/status"
)

// statusShutdownTimeout bounds how long in-flight status requests may
// delay exit.
const statusShutdownTimeout = 2 * time.Second

// Options configures an Application.
type Options struct {
	// Config is required and must be validated.
	Config *config.Config

	// Logger defaults to a discarding logger.
	Logger *Logger

	// Signals replaces the OS termination signals. Tests use it to
	// deliver signals without touching the test process.
	Signals <-chan os.Signal

	// Stdout and Stderr receive child output. Defaults are os.Stdout and
	// os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Environ is the base child environment. Nil inherits the
	// supervisor's own.
	Environ []string
}

// statusServer is the part of status.Server the application drives.
type statusServer interface {
	Start() error
	Addr() string
	Err() <-chan error
	Shutdown(ctx context.Context) error
}

// Application is one supervisor run.
type Application struct {
	cfg     *config.Config
	logger  *Logger
	sup     *process.Supervisor
	status  statusServer
	signals <-chan os.Signal
	environ []string
	running atomic.Bool
}

// New creates an Application from opts.
func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		return nil, ErrNoConfig
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	cfg := opts.Config
	app := &Application{
		cfg:     cfg,
		logger:  opts.Logger,
		signals: opts.Signals,
		environ: opts.Environ,
	}

	app.sup = process.NewSupervisor(
		process.WithLogger(opts.Logger.WithComponent("supervisor").Zap()),
		process.WithProcessGroup(cfg.Shutdown.ProcessGroup),
		process.WithShutdownSignal(cfg.ShutdownSignal()),
		process.WithShutdownTimeout(cfg.ShutdownTimeout()),
		process.WithOutput(opts.Stdout, opts.Stderr),
	)

	if cfg.Status.Addr != "" {
		app.status = status.NewServer(cfg.Status.Addr, app.sup, opts.Logger.WithComponent("status").Zap())
	}

	return app, nil
}

// Supervisor returns the process supervisor.
func (app *Application) Supervisor() *process.Supervisor {
	return app.sup
}

// StatusAddr returns the status server's bound address, or "" when the
// status server is disabled.
func (app *Application) StatusAddr() string {
	if app.status == nil {
		return ""
	}
	return app.status.Addr()
}

// Run starts both children and blocks until they have exited. It returns
// the exit code for the supervisor process. Cancelling ctx shuts the
// children down like a signal would. A status server that stops serving
// does the same, and the run then fails even if both children exit cleanly.
func (app *Application) Run(ctx context.Context) int {
	if !app.running.CompareAndSwap(false, true) {
		app.logger.Error("%v", ErrAlreadyRunning)
		return ExitFailure
	}

	signals := app.signals
	if signals == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, process.TerminationSignals()...)
		defer signal.Stop(ch)
		signals = ch
	}

	app.logger.Info("starting background services")

	specs := make([]process.Spec, 0, 2)
	for _, child := range app.cfg.Children() {
		specs = append(specs, child.Spec(app.environ))
	}
	if err := app.sup.StartAll(specs...); err != nil {
		app.logger.Error("%v", NewComponentError("supervisor", "start", err))
		return ExitCodeFor(err)
	}

	if app.status != nil {
		if err := app.status.Start(); err != nil {
			app.logger.Error("%v", NewComponentError("status", "listen", err))
			app.sup.Shutdown("status server failed")
			app.sup.Wait()
			app.logger.Info("all processes stopped")
			return ExitFailure
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var statusFailed atomic.Bool
	if app.status != nil {
		go app.watchStatus(ctx, cancel, &statusFailed)
	}

	stopped := make(chan struct{})
	app.supervise(ctx, signals, stopped)

	report := app.sup.Wait()
	close(stopped)
	app.logger.Info("all processes stopped")

	app.stopStatus()

	for _, err := range report.Delivery {
		app.logger.Warn("%v", err)
	}
	if !report.Clean() {
		app.logger.Error("%v", report.Err())
	}
	code := report.ExitCode()
	if code == ExitOK && statusFailed.Load() {
		return ExitFailure
	}
	return code
}

// supervise waits for the first termination trigger and starts shutdown.
// It returns once shutdown has been requested or every child is gone.
func (app *Application) supervise(ctx context.Context, signals <-chan os.Signal, stopped <-chan struct{}) {
	for {
		trig := app.sup.Await(ctx, signals)

		switch trig.Kind {
		case process.TriggerSignal:
			app.logger.WithField("signal", trig.Signal.String()).Info("caught signal, shutting down")

		case process.TriggerChildExit:
			p := trig.Process
			if app.cfg.Shutdown.OnChildExit == config.PolicyWait {
				app.logger.WithFields(map[string]any{
					"name":      p.Name,
					"exit_code": p.ExitCode(),
				}).Warn("%s exited, waiting for the remaining children", p.Name)
				continue
			}
			app.logger.WithFields(map[string]any{
				"name":      p.Name,
				"exit_code": p.ExitCode(),
			}).Warn("%s exited, shutting down", p.Name)

		case process.TriggerAllExited:
			return

		case process.TriggerContext:
			app.logger.WithField("cause", context.Cause(ctx).Error()).Info("context done, shutting down")
		}

		app.sup.Shutdown(trig.Reason())
		go app.absorbSignals(signals, stopped)
		return
	}
}

// absorbSignals consumes signals that arrive while shutting down. Shutdown
// is idempotent, so they change nothing.
func (app *Application) absorbSignals(signals <-chan os.Signal, stopped <-chan struct{}) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			app.logger.WithField("signal", sig.String()).Debug("already shutting down")
			app.sup.Shutdown("signal " + sig.String())
		case <-stopped:
			return
		}
	}
}

// watchStatus cancels the run when the status server stops serving.
func (app *Application) watchStatus(ctx context.Context, cancel context.CancelCauseFunc, failed *atomic.Bool) {
	select {
	case err, ok := <-app.status.Err():
		if !ok || err == nil {
			return
		}
		err = NewComponentError("status", "serve", err)
		app.logger.Error("%v", err)
		failed.Store(true)
		cancel(err)
	case <-ctx.Done():
	}
}

func (app *Application) stopStatus() {
	if app.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	if err := app.status.Shutdown(ctx); err != nil {
		app.logger.Warn("%v", NewComponentError("status", "shutdown", err))
	}
}
