// Package workertable tracks the lifecycle state of the coordinator's pool
// of worker subprocesses.
package workertable

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tjper/raceworker/internal/coordinator/wire"
)

// State is a worker's position in the lifecycle state machine.
type State int32

const (
	// Started indicates the child process has been forked but has not yet
	// raised its initial self-stop.
	Started State = iota
	// Idle indicates the worker is suspended awaiting a new Problem.
	Idle
	// Continued indicates the worker has been resumed with an assignment but
	// has not yet begun solving it. Transient.
	Continued
	// Running indicates the worker is executing a solver.
	Running
	// Stopped indicates the worker self-stopped after writing a Result; the
	// coordinator must drain it.
	Stopped
	// Exited indicates the process exited normally.
	Exited
	// Aborted indicates the process was killed or died abnormally. Fatal for
	// the coordinator.
	Aborted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Idle:
		return "idle"
	case Continued:
		return "continued"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrUnknownPid indicates a child-status event named a pid the table has no
// record of. The coordinator treats this as fatal.
var ErrUnknownPid = errors.New("workertable: unknown pid")

// ErrIllegalTransition indicates a transition was requested that the state
// machine does not permit from the record's current state.
var ErrIllegalTransition = errors.New("workertable: illegal transition")

// Record is a single worker's bookkeeping entry.
type Record struct {
	// ID is the record's stable index within the table, used for logging.
	ID int
	// Pid is the worker's OS process id.
	Pid int
	// Down is the coordinator's write end of the coordinator->worker pipe.
	Down io.WriteCloser
	// Up is the coordinator's read end of the worker->coordinator pipe.
	Up io.ReadCloser

	mu       sync.Mutex
	state    atomic.Int32
	assigned *wire.Problem
	drained  bool
}

// State returns the record's current lifecycle state.
func (r *Record) State() State { return State(r.state.Load()) }

// Assigned returns the Problem currently held by this worker, if any.
func (r *Record) Assigned() (wire.Problem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assigned == nil {
		return wire.Problem{}, false
	}
	return *r.assigned, true
}

// Drained reports whether the coordinator has already consumed this
// worker's up pipe for its current assignment.
func (r *Record) Drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}

// Assign records p as this worker's current assignment and clears drained.
func (r *Record) Assign(p wire.Problem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned = &p
	r.drained = false
}

// MarkDrained records that the coordinator has consumed this worker's up
// pipe for its current assignment.
func (r *Record) MarkDrained() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drained = true
}

// Clear releases this worker's current assignment.
func (r *Record) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned = nil
	r.drained = false
}

// legal enumerates the permitted state transitions, keyed by (from, to).
var legal = map[[2]State]bool{
	{Started, Idle}:      true,
	{Continued, Running}: true,
	{Running, Stopped}:   true,
	{Idle, Continued}:    true,
	{Idle, Running}:      true,
	{Stopped, Idle}:      true,
}

// isTerminal reports whether s is a terminal state, reachable from any
// other state.
func isTerminal(s State) bool { return s == Exited || s == Aborted }

// New creates a Table with n uninitialized records, ids 0..n-1.
func New(n int) *Table {
	t := &Table{records: make([]*Record, n)}
	for i := range t.records {
		t.records[i] = &Record{ID: i}
	}
	return t
}

// Table is the coordinator's pool of worker records plus the atomic
// counters the dispatcher uses to decide when to drain versus dispatch.
type Table struct {
	records []*Record

	alive   atomic.Int32
	idle    atomic.Int32
	stopped atomic.Int32
}

// Records returns the table's records in id order. The returned slice
// shares backing storage and must not be mutated.
func (t *Table) Records() []*Record { return t.records }

// Len returns the number of worker records.
func (t *Table) Len() int { return len(t.records) }

// ByPid finds the record with the given pid, or nil if none matches.
func (t *Table) ByPid(pid int) *Record {
	for _, r := range t.records {
		if r.Pid == pid {
			return r
		}
	}
	return nil
}

// Idle returns the number of records currently in the Idle state.
func (t *Table) Idle() int32 { return t.idle.Load() }

// Stopped returns the number of records currently in the Stopped state.
func (t *Table) Stopped() int32 { return t.stopped.Load() }

// Alive returns the number of records not yet in a terminal state.
func (t *Table) Alive() int32 { return t.alive.Load() }

// AllIdle reports whether every record is currently Idle.
func (t *Table) AllIdle() bool { return int(t.idle.Load()) == len(t.records) }

// AnyStopped reports whether at least one record is currently Stopped.
func (t *Table) AnyStopped() bool { return t.stopped.Load() > 0 }

// AllExited reports whether every record has reached Exited.
func (t *Table) AllExited() bool {
	for _, r := range t.records {
		if r.State() != Exited {
			return false
		}
	}
	return true
}

// AllTerminal reports whether every record has reached a terminal state
// (Exited or Aborted). Used by shutdown, which must not hang forever
// waiting for a worker that died abnormally to reach Exited.
func (t *Table) AllTerminal() bool {
	for _, r := range t.records {
		if !isTerminal(r.State()) {
			return false
		}
	}
	return true
}

// Init marks a freshly forked record alive, with the given pid and pipes.
func (t *Table) Init(id, pid int, down io.WriteCloser, up io.ReadCloser) {
	r := t.records[id]
	r.Pid = pid
	r.Down = down
	r.Up = up
	r.state.Store(int32(Started))
	t.alive.Add(1)
}

// Transition applies the edge from a record's current state to to. It
// returns ErrIllegalTransition if the edge is not permitted, and maintains
// the table's atomic counters.
func (t *Table) Transition(r *Record, to State) error {
	from := State(r.state.Load())

	if isTerminal(to) {
		r.state.Store(int32(to))
		t.alive.Add(-1)
		if from == Idle {
			t.idle.Add(-1)
		}
		if from == Stopped {
			t.stopped.Add(-1)
		}
		return nil
	}

	if !legal[[2]State{from, to}] {
		return errors.Wrapf(ErrIllegalTransition, "from %s to %s (pid %d)", from, to, r.Pid)
	}

	r.state.Store(int32(to))

	switch from {
	case Idle:
		t.idle.Add(-1)
	case Stopped:
		t.stopped.Add(-1)
	}
	switch to {
	case Idle:
		t.idle.Add(1)
	case Stopped:
		t.stopped.Add(1)
	}

	return nil
}
