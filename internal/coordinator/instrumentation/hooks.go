// Package instrumentation defines the observability edges the coordinator
// calls during dispatch, and provides a no-op implementation and a
// Prometheus-backed implementation.
package instrumentation

import (
	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
)

// Hooks is invoked at named coordinator transitions. Each method is called
// at most once per edge; implementations must be safe to call from the
// reconciler's goroutine as well as the dispatcher's.
type Hooks interface {
	// Start is called once when the dispatcher begins running.
	Start()
	// End is called once when the dispatcher stops, for any reason.
	End()
	// ChangeState is called whenever a worker's lifecycle state changes.
	ChangeState(pid int, old, new workertable.State)
	// SendProblem is called when a Problem is handed to a worker.
	SendProblem(pid int, p wire.Problem)
	// RecvResult is called when a Result is drained from a worker.
	RecvResult(pid int, r wire.Result)
	// Cancel is called when a cooperative cancel hint is sent to a worker.
	Cancel(pid int)
}
