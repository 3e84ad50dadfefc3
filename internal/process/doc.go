// Package process supervises a fixed set of child processes.
//
// A Supervisor spawns its children, reports when a signal arrives or a
// child exits, broadcasts a termination signal to every child exactly
// once, and joins them all before reporting how each one ended.
//
// # Lifecycle
//
// The supervisor moves through starting, running, shutting_down and
// stopped. A spawn failure goes straight from starting to stopped after
// any child already spawned has been terminated and reaped.
//
//	sup := process.NewSupervisor(process.WithLogger(log))
//	if err := sup.StartAll(server, subscriber); err != nil {
//	    return err // *SpawnError
//	}
//
//	sigs := make(chan os.Signal, 2)
//	signal.Notify(sigs, process.TerminationSignals()...)
//
//	trig := sup.Await(ctx, sigs)
//	sup.Shutdown(trig.Reason())
//	report := sup.Wait()
//	os.Exit(report.ExitCode())
//
// # Signals
//
// By default each child leads its own process group and the termination
// signal is sent to the group, so grandchildren such as pre-forked
// workers receive it too. Children still running after the shutdown
// timeout are sent SIGKILL.
//
// # Idempotent shutdown
//
// Termination state lives in a ShutdownLatch that flips exactly once.
// Only the first Shutdown call broadcasts; repeats are no-ops.
package process
