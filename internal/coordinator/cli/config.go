package cli

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the coordinator's YAML configuration. Flags set on the run
// subcommand override the corresponding field when present.
type Config struct {
	// Workers is the size of the worker pool.
	Workers int `yaml:"workers"`
	// MetricsAddr, if non-empty, serves Prometheus metrics at /metrics on
	// this address.
	MetricsAddr string `yaml:"metrics_addr"`
	// WorkerExec is the path to the worker executable. Empty means
	// re-exec the coordinator's own binary.
	WorkerExec string `yaml:"worker_exec"`
	// Numbers is the demo domain's list of targets to factor.
	Numbers []uint64 `yaml:"numbers"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "cli: read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "cli: parse config")
	}
	return cfg, nil
}
