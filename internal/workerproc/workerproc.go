// Package workerproc implements the worker side of the coordinator
// protocol: a process that suspends itself between assignments, and runs a
// registered Solver against each Problem it is handed.
package workerproc

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/log"
)

var logger = log.New(os.Stderr, "workerproc")

// Solver solves a single Problem. Implementations should select on
// ctx.Done() cooperatively; a Solver that ignores cancellation still
// completes correctly, it simply may finish too late to matter. Returning
// ok=false causes the caller to report a failed Result, whatever result
// holds.
type Solver func(ctx context.Context, p wire.Problem) (result wire.Result, ok bool)

// Registry maps a Problem's Type to the Solver that handles it.
type Registry map[uint32]Solver

// Run is the worker's perpetual loop: it self-suspends, waits to be
// resumed, reads a Problem, solves it, and writes a Result, forever, until
// a SIGTERM arrives.
func Run(in io.Reader, out io.Writer, registry Registry) error {
	hup := make(chan os.Signal, 1)
	cont := make(chan os.Signal, 1)
	term := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	signal.Notify(cont, syscall.SIGCONT)
	signal.Notify(term, syscall.SIGTERM)
	defer signal.Stop(hup)
	defer signal.Stop(cont)
	defer signal.Stop(term)

	go func() {
		<-term
		logger.Infof("received SIGTERM, exiting")
		os.Exit(0)
	}()

	var proceed atomic.Bool

	go func() {
		for range cont {
			proceed.Store(true)
		}
	}()

	for {
		if err := unix.Kill(unix.Getpid(), unix.SIGSTOP); err != nil {
			return errors.Wrap(err, "workerproc: self-stop")
		}

		if !proceed.Swap(false) {
			continue
		}

		if err := runIteration(in, out, registry, hup); err != nil {
			logger.Errorf("iteration: %s", err)
		}
	}
}

// runIteration reads one Problem, solves it, and writes the corresponding
// Result. A cancel hint received mid-solve cancels the Solver's context;
// the Solver is trusted to check it.
func runIteration(in io.Reader, out io.Writer, registry Registry, hup <-chan os.Signal) error {
	p, err := wire.ReadProblem(in)
	if errors.Is(err, wire.ErrShortFrame) {
		logger.Warnf("short problem frame, skipping iteration")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read problem")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-hup:
			cancel()
		case <-done:
		}
	}()

	solver, ok := registry[p.Type]
	var result wire.Result
	if ok {
		result, ok = solver(ctx, p)
	}
	if !ok {
		result = wire.Result{Failed: true}
	}

	if err := wire.WriteResult(out, result); err != nil {
		return errors.Wrap(err, "write result")
	}
	return nil
}
