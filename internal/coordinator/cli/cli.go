// Package cli builds the coordinator's command-line interface: flag and
// YAML config handling, worker pool spawning, and wiring of the table,
// reconciler, dispatcher, and instrumentation hooks.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tjper/raceworker/internal/coordinator/demo"
	"github.com/tjper/raceworker/internal/coordinator/dispatch"
	"github.com/tjper/raceworker/internal/coordinator/instrumentation"
	"github.com/tjper/raceworker/internal/coordinator/reconciler"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
	"github.com/tjper/raceworker/internal/log"
	"github.com/tjper/raceworker/internal/validator"
	"github.com/tjper/raceworker/internal/workerproc"
)

var logger = log.New(os.Stderr, "cli")

// ReexecEnv, when set in a child process's environment, tells main to run
// the worker loop instead of the coordinator CLI. This lets a single
// binary serve both roles.
const ReexecEnv = "RACEWORKER_REEXEC"

// BuildCLI constructs the root cobra command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "raceworker",
		Short: "race-to-first-success master/worker problem solver",
	}

	root.AddCommand(buildRunCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	var (
		configPath  string
		workers     int
		metricsAddr string
		workerExec  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the coordinator and its worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if workerExec != "" {
				cfg.WorkerExec = workerExec
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file path")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (overrides config)")
	cmd.Flags().StringVar(&workerExec, "worker-exec", "", "path to the worker executable (overrides config; default: re-exec self)")

	return cmd
}

func run(ctx context.Context, cfg Config) error {
	v := validator.New()
	v.Assert(cfg.Workers > 0, "workers must be greater than 0")
	if err := v.Err(); err != nil {
		return err
	}

	var hooks instrumentation.Hooks = instrumentation.Noop{}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		hooks = instrumentation.NewProm(reg)
		go serveMetrics(cfg.MetricsAddr, reg)
	}

	tbl := workertable.New(cfg.Workers)
	if err := spawnWorkers(tbl, cfg.WorkerExec); err != nil {
		return err
	}

	rec := reconciler.New(tbl, hooks)
	rec.Run()
	defer rec.Stop()

	source := demo.NewSource(cfg.Numbers)
	sink := demo.Sink{}

	d := dispatch.New(tbl, source, sink, rec, hooks)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("coordinator running with %d workers", cfg.Workers)
	return d.Run(ctx)
}

// spawnWorkers forks cfg.Workers worker processes, wiring each one's stdin
// to the coordinator's write end of a fresh pipe and its stdout to the
// coordinator's read end of another, matching the original protocol's use
// of the standard streams as the problem/result channel.
func spawnWorkers(tbl *workertable.Table, workerExec string) error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "cli: resolve self executable")
	}

	for i := 0; i < tbl.Len(); i++ {
		downR, downW, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err, "cli: new down pipe")
		}
		upR, upW, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err, "cli: new up pipe")
		}

		var c *exec.Cmd
		if workerExec != "" {
			c = exec.Command(workerExec)
		} else {
			c = exec.Command(self)
			c.Env = append(os.Environ(), ReexecEnv+"=1")
		}
		c.Stdin = downR
		c.Stdout = upW
		c.Stderr = os.Stderr
		c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := c.Start(); err != nil {
			return errors.Wrapf(err, "cli: start worker %d", i)
		}

		downR.Close()
		upW.Close()

		tbl.Init(i, c.Process.Pid, downW, upR)
		logger.Infof("started worker %d (pid %d)", i, c.Process.Pid)
	}

	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server: %s", err)
	}
}

// RunWorker runs the worker loop against stdin/stdout, for use when this
// binary is re-exec'd with ReexecEnv set.
func RunWorker() error {
	fmt.Fprintln(os.Stderr, "raceworker: starting worker loop")
	return errors.Wrap(workerproc.Run(os.Stdin, os.Stdout, demo.Registry()), "cli: worker")
}
