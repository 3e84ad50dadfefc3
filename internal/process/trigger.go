package process

import (
	"fmt"
	"os"
)

// TriggerKind is what woke Supervisor.Await.
type TriggerKind int

const (
	// TriggerSignal means a termination signal arrived.
	TriggerSignal TriggerKind = iota
	// TriggerChildExit means a child exited.
	TriggerChildExit
	// TriggerAllExited means no child is left running.
	TriggerAllExited
	// TriggerContext means the context was cancelled.
	TriggerContext
)

// String returns a human-readable trigger name.
func (k TriggerKind) String() string {
	switch k {
	case TriggerSignal:
		return "signal"
	case TriggerChildExit:
		return "child_exit"
	case TriggerAllExited:
		return "all_exited"
	case TriggerContext:
		return "context"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Trigger is returned by Supervisor.Await.
type Trigger struct {
	Kind    TriggerKind
	Signal  os.Signal // set for TriggerSignal
	Process *Process  // set for TriggerChildExit
	Err     error     // set for TriggerContext
}

// Reason describes the trigger for logs and Shutdown.
func (t Trigger) Reason() string {
	switch t.Kind {
	case TriggerSignal:
		return fmt.Sprintf("signal %v", t.Signal)
	case TriggerChildExit:
		return fmt.Sprintf("%s exited", t.Process.Name)
	case TriggerContext:
		return fmt.Sprintf("context: %v", t.Err)
	default:
		return t.Kind.String()
	}
}
