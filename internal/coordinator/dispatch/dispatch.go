// Package dispatch implements the race-to-first-success dispatcher: given a
// pool of worker records, it fetches N problem variants per batch, runs them
// in parallel, accepts the first success, and cancels the rest. It frames
// problems and results with the wire codec; beyond that and the interfaces
// declared here it knows nothing of the worker binary or its solvers.
package dispatch

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/tjper/raceworker/internal/coordinator/instrumentation"
	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
	"github.com/tjper/raceworker/internal/log"
)

var logger = log.New(os.Stderr, "dispatch")

// ProblemSource supplies the problem variants for each batch. GetVariant is
// called exactly once per worker per batch, in ascending order of variant.
// The second return value is false when there are no more batches to run.
type ProblemSource interface {
	GetVariant(ctx context.Context, nvariants, variant int) (wire.Problem, bool)
}

// ResultSink accepts the winning result of a resolved batch, along with the
// Problem record that produced it.
type ResultSink interface {
	PostResult(result wire.Result, problem wire.Problem)
}

// Waker delivers coordinator-originated child-status events. Satisfied by
// *reconciler.Reconciler.
type Waker interface {
	Wake() <-chan struct{}
	Fatal() <-chan error
}

// Signaler delivers a Unix signal to a worker pid. It is a seam over
// golang.org/x/sys/unix.Kill so tests can exercise the dispatcher without
// real processes.
type Signaler func(pid int, sig unix.Signal) error

// Batch is the in-memory unit the dispatcher advances each round.
type Batch struct {
	ID        uuid.UUID
	NVariants int
	resolved  bool
	solved    int
}

// Dispatcher runs the two-phase drain/dispatch loop over a worker table.
type Dispatcher struct {
	table  *workertable.Table
	source ProblemSource
	sink   ResultSink
	waker  Waker
	hooks  instrumentation.Hooks
	signal Signaler
}

// New creates a Dispatcher. hooks may be instrumentation.Noop{} if
// observability is not wired.
func New(tbl *workertable.Table, source ProblemSource, sink ResultSink, waker Waker, hooks instrumentation.Hooks) *Dispatcher {
	return &Dispatcher{
		table:  tbl,
		source: source,
		sink:   sink,
		waker:  waker,
		hooks:  hooks,
		signal: unix.Kill,
	}
}

// SetSignaler overrides the signal-delivery seam. Intended for tests;
// production callers should not need it.
func (d *Dispatcher) SetSignaler(s Signaler) { d.signal = s }

// Run executes batches until the ProblemSource is exhausted, a fatal
// reconciler error occurs, or ctx is cancelled. On normal exhaustion it
// performs shutdown and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.hooks.Start()
	defer d.hooks.End()

	for {
		if err := d.drain(ctx); err != nil {
			return err
		}

		problems, ok, err := d.fetchBatch(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return d.shutdown(ctx)
		}

		if err := d.dispatchBatch(problems); err != nil {
			return err
		}
	}
}

// drain runs phase A: while any worker is not Idle, accept and process
// Stopped workers' results until every worker has returned to Idle.
func (d *Dispatcher) drain(ctx context.Context) error {
	batch := &Batch{}

	for !d.table.AllIdle() {
		if !d.table.AnyStopped() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-d.waker.Fatal():
				return err
			case <-d.waker.Wake():
			}
			continue
		}

		for _, r := range d.table.Records() {
			if r.State() != workertable.Stopped {
				continue
			}
			if err := d.drainOne(r, batch); err != nil {
				return err
			}
		}
	}

	return nil
}

// drainOne reads a single Stopped worker's result, resolves the batch on
// first success, and returns the worker to Idle.
func (d *Dispatcher) drainOne(r *workertable.Record, batch *Batch) error {
	if r.Drained() {
		return d.transitionToIdle(r)
	}

	result, err := wire.ReadResult(r.Up)
	r.MarkDrained()

	if errors.Is(err, wire.ErrShortFrame) {
		r.Clear()
		return d.transitionToIdle(r)
	}
	if err != nil {
		return errors.Wrapf(err, "dispatch: read result from worker %d", r.ID)
	}

	d.hooks.RecvResult(r.Pid, result)

	if !result.Failed && !batch.resolved {
		problem, _ := r.Assigned()
		batch.resolved = true
		batch.solved++
		d.sink.PostResult(result, problem)
		d.cancelSiblings(r)
	}

	r.Clear()
	return d.transitionToIdle(r)
}

// transitionToIdle moves a Stopped worker back to Idle, notifying hooks of
// the change.
func (d *Dispatcher) transitionToIdle(r *workertable.Record) error {
	from := r.State()
	if err := d.table.Transition(r, workertable.Idle); err != nil {
		return err
	}
	d.hooks.ChangeState(r.Pid, from, workertable.Idle)
	return nil
}

// cancelSiblings delivers a cooperative cancel hint to every worker still
// racing on the same batch as winner.
func (d *Dispatcher) cancelSiblings(winner *workertable.Record) {
	for _, r := range d.table.Records() {
		if r == winner {
			continue
		}
		switch r.State() {
		case workertable.Continued, workertable.Running:
			d.hooks.Cancel(r.Pid)
			if err := d.signal(r.Pid, unix.SIGHUP); err != nil {
				logger.Warnf("cancel worker %d (pid %d): %s", r.ID, r.Pid, err)
			}
		}
	}
}

// fetchBatch gathers one problem variant per worker from the source.
func (d *Dispatcher) fetchBatch(ctx context.Context) ([]wire.Problem, bool, error) {
	n := d.table.Len()
	problems := make([]wire.Problem, n)
	for i := 0; i < n; i++ {
		p, ok := d.source.GetVariant(ctx, n, i)
		if !ok {
			return nil, false, nil
		}
		problems[i] = p
	}
	return problems, true, nil
}

// dispatchBatch runs phase B: hand one problem to each Idle worker and
// resume it.
func (d *Dispatcher) dispatchBatch(problems []wire.Problem) error {
	batchID := uuid.New()
	logger.Infof("dispatching batch %s (%d variants)", batchID, len(problems))

	for i, r := range d.table.Records() {
		p := problems[i]
		d.hooks.SendProblem(r.Pid, p)

		if err := d.table.Transition(r, workertable.Continued); err != nil {
			return err
		}
		d.hooks.ChangeState(r.Pid, workertable.Idle, workertable.Continued)
		r.Assign(p)

		if err := wire.WriteProblem(r.Down, p); err != nil {
			return errors.Wrapf(err, "dispatch: write problem to worker %d", r.ID)
		}
		if err := d.signal(r.Pid, unix.SIGCONT); err != nil {
			return errors.Wrapf(err, "dispatch: resume worker %d", r.ID)
		}
	}
	return nil
}

// shutdown resumes and terminates every worker, then polls until all have
// exited. The poll does not assume a single round suffices: a worker may
// not have consumed its continue signal before the terminate signal
// arrives.
func (d *Dispatcher) shutdown(ctx context.Context) error {
	logger.Infof("shutting down %d workers", d.table.Len())

	for _, r := range d.table.Records() {
		if r.State() == workertable.Exited || r.State() == workertable.Aborted {
			continue
		}
		_ = d.signal(r.Pid, unix.SIGCONT)
		_ = d.signal(r.Pid, unix.SIGTERM)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !d.table.AllTerminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-d.waker.Fatal():
			return err
		case <-d.waker.Wake():
		case <-ticker.C:
		}
	}

	return nil
}
