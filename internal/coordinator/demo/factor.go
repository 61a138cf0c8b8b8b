// Package demo provides a runnable example domain for the coordinator: N
// workers race to find a nontrivial factor of a number, each
// trial-dividing a disjoint slice of the search space. The first worker to
// report a factor wins, so the accepted factor is not necessarily the
// smallest one. It exists to give
// cmd/raceworker something concrete to run out of the box; real
// deployments supply their own dispatch.ProblemSource, dispatch.ResultSink,
// and workerproc.Solver.
package demo

import (
	"context"
	"encoding/binary"
	"math/big"
	"os"
	"sync"

	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/log"
	"github.com/tjper/raceworker/internal/workerproc"
)

var logger = log.New(os.Stderr, "demo")

// SolverType identifies the factor-search solver in a workerproc.Registry.
const SolverType uint32 = 1

// Numbers is the sequence of targets to factor, one batch per entry.
type Numbers []uint64

// Source is a dispatch.ProblemSource that partitions the search space for
// each target in Numbers across the batch's variants.
type Source struct {
	numbers Numbers
	next    int
	mu      sync.Mutex
}

// NewSource creates a Source over the given targets.
func NewSource(numbers Numbers) *Source {
	return &Source{numbers: numbers}
}

// GetVariant implements dispatch.ProblemSource.
func (s *Source) GetVariant(ctx context.Context, nvariants, variant int) (wire.Problem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.numbers) {
		return wire.Problem{}, false
	}
	n := s.numbers[s.next]
	if variant == nvariants-1 {
		s.next++
	}

	data := make([]byte, 24)
	binary.LittleEndian.PutUint64(data[0:8], n)
	binary.LittleEndian.PutUint64(data[8:16], uint64(variant))
	binary.LittleEndian.PutUint64(data[16:24], uint64(nvariants))

	return wire.Problem{Type: SolverType, Variant: uint32(variant), NVariants: uint32(nvariants), Data: data}, true
}

// Sink is a dispatch.ResultSink that logs each accepted factor.
type Sink struct{}

// PostResult implements dispatch.ResultSink.
func (Sink) PostResult(r wire.Result, p wire.Problem) {
	n := binary.LittleEndian.Uint64(p.Data[0:8])
	factor := binary.LittleEndian.Uint64(r.Data[0:8])
	logger.Infof("%d = %d * %d", n, factor, n/factor)
}

// Solve implements workerproc.Solver for SolverType: it trial-divides n by
// every candidate in [2, sqrt(n)] that is congruent to 2+variant modulo
// nvariants, returning the first divisor it finds.
func Solve(ctx context.Context, p wire.Problem) (wire.Result, bool) {
	n := binary.LittleEndian.Uint64(p.Data[0:8])
	variant := binary.LittleEndian.Uint64(p.Data[8:16])
	nvariants := binary.LittleEndian.Uint64(p.Data[16:24])

	limit := new(big.Int).Sqrt(new(big.Int).SetUint64(n)).Uint64()
	if limit < 2 {
		return wire.Result{Failed: true}, true
	}

	for candidate := 2 + variant; candidate <= limit; candidate += nvariants {
		select {
		case <-ctx.Done():
			return wire.Result{Failed: true}, true
		default:
		}
		if n%candidate == 0 {
			data := make([]byte, 8)
			binary.LittleEndian.PutUint64(data, candidate)
			return wire.Result{Data: data}, true
		}
	}
	return wire.Result{Failed: true}, true
}

// Registry returns a workerproc.Registry with the factor-search solver
// installed.
func Registry() workerproc.Registry {
	return workerproc.Registry{SolverType: Solve}
}
