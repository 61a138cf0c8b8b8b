// Package reconciler converts SIGCHLD delivery into worker lifecycle
// transitions, decoupling the coordinator's dispatch loop from asynchronous
// process-status events.
package reconciler

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/tjper/raceworker/internal/coordinator/instrumentation"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
	"github.com/tjper/raceworker/internal/log"
)

var logger = log.New(os.Stderr, "reconciler")

// Wait4 matches the signature of golang.org/x/sys/unix.Wait4. It is a seam
// so tests can drive the reconciler without real child processes.
type Wait4 func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

// Reconciler drains SIGCHLD-reported child status changes and applies the
// corresponding transitions to a workertable.Table.
type Reconciler struct {
	table *workertable.Table
	wait4 Wait4
	hooks instrumentation.Hooks

	sigs  chan os.Signal
	wake  chan struct{}
	fatal chan error
	done  chan struct{}
}

// New creates a Reconciler watching tbl. Call Run to start it.
func New(tbl *workertable.Table, hooks instrumentation.Hooks) *Reconciler {
	return &Reconciler{
		table: tbl,
		wait4: unix.Wait4,
		hooks: hooks,
		sigs:  make(chan os.Signal, 64),
		wake:  make(chan struct{}, 1),
		fatal: make(chan error, 1),
		done:  make(chan struct{}),
	}
}

// SetWait4 overrides the syscall seam used to poll for child-status
// changes. Intended for tests; production callers should not need it.
func (rec *Reconciler) SetWait4(w Wait4) { rec.wait4 = w }

// Drain processes every pending child-status event non-blockingly. Exposed
// for tests that want to exercise reconciliation without a real SIGCHLD
// delivery.
func (rec *Reconciler) Drain() { rec.drain() }

// Wake delivers once per batch of drained child-status events, telling the
// dispatch loop's blocking wait to return instead of busy-spinning.
func (rec *Reconciler) Wake() <-chan struct{} { return rec.wake }

// Fatal delivers an error if the reconciler observes a condition the
// coordinator cannot recover from, such as an unknown pid.
func (rec *Reconciler) Fatal() <-chan error { return rec.fatal }

// Run installs the SIGCHLD subscription and processes events until Stop is
// called.
func (rec *Reconciler) Run() {
	signal.Notify(rec.sigs, syscall.SIGCHLD)
	go rec.loop()
}

// Stop tears down the signal subscription and terminates the loop
// goroutine.
func (rec *Reconciler) Stop() {
	signal.Stop(rec.sigs)
	close(rec.done)
}

func (rec *Reconciler) loop() {
	for {
		select {
		case <-rec.done:
			return
		case <-rec.sigs:
			rec.drain()
		}
	}
}

// drain processes every pending child-status event non-blockingly, looping
// until none remain, since SIGCHLD delivery can be coalesced when multiple
// children change state in quick succession.
func (rec *Reconciler) drain() {
	any := false
	for {
		var status unix.WaitStatus
		pid, err := rec.wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err != nil || pid <= 0 {
			break
		}
		any = true

		record := rec.table.ByPid(pid)
		if record == nil {
			rec.pushFatal(errors.Wrapf(workertable.ErrUnknownPid, "pid %d", pid))
			continue
		}

		from := record.State()
		to, ok := nextState(from, status)
		if !ok {
			continue
		}
		if err := rec.table.Transition(record, to); err != nil {
			rec.pushFatal(err)
			continue
		}
		rec.hooks.ChangeState(pid, from, to)
		logger.Infof("worker %d (pid %d) -> %s", record.ID, pid, to)

		if to == workertable.Aborted {
			rec.pushFatal(errors.Errorf("worker %d (pid %d) aborted", record.ID, pid))
		}
	}

	if any {
		select {
		case rec.wake <- struct{}{}:
		default:
		}
	}
}

// nextState maps a raw wait status, combined with the record's prior
// state, onto the lifecycle machine's next state. A stop reported from
// Started means "worker is ready for its first problem"; a stop reported
// from Running means "a result is waiting to be drained."
func nextState(from workertable.State, status unix.WaitStatus) (workertable.State, bool) {
	switch {
	case status.Exited():
		return workertable.Exited, true
	case status.Signaled():
		return workertable.Aborted, true
	case status.Stopped():
		if from == workertable.Running {
			return workertable.Stopped, true
		}
		return workertable.Idle, true
	case status.Continued():
		return workertable.Running, true
	default:
		return 0, false
	}
}

func (rec *Reconciler) pushFatal(err error) {
	logger.Errorf("fatal: %s", err)
	select {
	case rec.fatal <- err:
	default:
	}
}
