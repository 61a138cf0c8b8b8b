package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
)

// Prom implements Hooks with Prometheus counters and gauges, following a
// RED-style naming convention: counts of things that happened, plus a
// point-in-time gauge of worker state.
type Prom struct {
	problemsSent   prometheus.Counter
	resultsRecv    prometheus.Counter
	resultsFailed  prometheus.Counter
	resultsSolved  prometheus.Counter
	cancelsSent    prometheus.Counter
	workersByState *prometheus.GaugeVec
}

// NewProm creates and registers a Prom hooks implementation against reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		problemsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raceworker_problems_sent_total",
			Help: "Total number of problem variants dispatched to workers.",
		}),
		resultsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raceworker_results_received_total",
			Help: "Total number of results drained from workers.",
		}),
		resultsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raceworker_results_failed_total",
			Help: "Total number of results marked failed.",
		}),
		resultsSolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raceworker_batches_solved_total",
			Help: "Total number of results drained without the failed flag, including successes discarded because their batch was already resolved.",
		}),
		cancelsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raceworker_cancels_sent_total",
			Help: "Total number of cooperative cancel hints sent to losing workers.",
		}),
		workersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raceworker_workers",
			Help: "Current number of workers in each lifecycle state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		p.problemsSent,
		p.resultsRecv,
		p.resultsFailed,
		p.resultsSolved,
		p.cancelsSent,
		p.workersByState,
	)

	return p
}

func (p *Prom) Start() {}
func (p *Prom) End()   {}

func (p *Prom) ChangeState(pid int, old, new workertable.State) {
	p.workersByState.WithLabelValues(old.String()).Dec()
	p.workersByState.WithLabelValues(new.String()).Inc()
}

func (p *Prom) SendProblem(pid int, prob wire.Problem) {
	p.problemsSent.Inc()
}

func (p *Prom) RecvResult(pid int, r wire.Result) {
	p.resultsRecv.Inc()
	if r.Failed {
		p.resultsFailed.Inc()
	} else {
		p.resultsSolved.Inc()
	}
}

func (p *Prom) Cancel(pid int) {
	p.cancelsSent.Inc()
}

var _ Hooks = (*Prom)(nil)
