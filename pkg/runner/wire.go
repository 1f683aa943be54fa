package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runningwild/vbench/pkg/cluster"
	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/executor"
	"github.com/runningwild/vbench/pkg/metrics"
	"github.com/runningwild/vbench/pkg/proc"
	"github.com/runningwild/vbench/pkg/profiler"
	"github.com/runningwild/vbench/pkg/scenario"
	"github.com/runningwild/vbench/pkg/server"
	"github.com/runningwild/vbench/pkg/sysinfo"
)

// Options are the run-level knobs that come from the command line.
type Options struct {
	Commit        string
	ValkeyPath    string // server source tree; binaries live under src/
	BenchmarkPath string // defaults to the tree's valkey-benchmark
	TargetIP      string
	ResultsDir    string // root; each commit gets a subdirectory
	Groups        []string
	Scenarios     []string
	ModulePath    string

	OwnServers      bool // launch, restart and shut down the servers
	SkipConfigApply bool
	NoProfiling     bool
	Parquet         bool
}

// CommitDir is where a commit's results, logs and flamegraphs go.
func (o Options) CommitDir() string {
	return filepath.Join(o.ResultsDir, o.Commit)
}

func (o Options) binary(name string) string {
	return filepath.Join(o.ValkeyPath, "src", name)
}

// Run is a wired controller plus the launcher that owns the servers, if any.
type Run struct {
	*Controller
	Client   *server.Client
	Launcher *server.Launcher
}

// New wires the real collaborators for one config and commit.
func New(cfg *config.Config, o Options, log *slog.Logger) (*Run, error) {
	if log == nil {
		log = slog.Default()
	}
	host := o.TargetIP
	if host == "" {
		host = "127.0.0.1"
	}
	dir := o.CommitDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}

	topo, err := cfg.Topology(host)
	if err != nil {
		return nil, err
	}
	ranges, err := cfg.ClientRanges()
	if err != nil {
		return nil, err
	}

	// Server binaries and TLS material are relative to the source tree.
	r := proc.ExecRunner{Dir: o.ValkeyPath}
	bench := o.BenchmarkPath
	if bench == "" {
		bench = o.binary("valkey-benchmark")
	}
	b := &command.Builder{
		BenchmarkPath: bench,
		CLIPath:       o.binary("valkey-cli"),
		Host:          host,
		Cfg:           cfg,
		Topo:          topo,
		Cores:         cfg.DefaultClientCores(),
	}
	client := &server.Client{Runner: r, Builder: b, Ports: topo.Ports(), Log: log}

	run := &Run{Client: client}
	var restarter server.Restarter
	if o.OwnServers {
		run.Launcher = &server.Launcher{
			ServerPath: o.binary("valkey-server"),
			Client:     client,
			Runner:     r,
			Cfg:        cfg,
			Host:       host,
			LogDir:     dir,
			ModulePath: o.ModulePath,
			Log:        log,
		}
		restarter = run.Launcher
	}

	exec := &executor.Executor{
		Cfg:       cfg,
		Topo:      topo,
		Builder:   b,
		Runner:    r,
		Server:    client,
		Restarter: restarter,
		Parallel: &cluster.Coordinator{
			Runner:       r,
			Builder:      b,
			Topo:         topo,
			ClientRanges: ranges,
			Log:          log,
		},
		Log: log,
	}

	c := &Controller{
		Cfg:       cfg,
		Commit:    o.Commit,
		SourceDir: o.ValkeyPath,
		Runner:    proc.ExecRunner{},
		Exec:      exec,
		Planner: &scenario.Planner{
			Cfg:     cfg,
			Cluster: topo.Multi(),
			Filter:  scenario.NewFilter(o.Groups, o.Scenarios),
			Log:     log,
		},
		NewSink: func() metrics.Sink {
			if o.Parquet {
				return metrics.MultiSink{metrics.NewJSONSink(dir), metrics.NewParquetSink(dir)}
			}
			return metrics.NewJSONSink(dir)
		},
		Metrics: metrics.Builder{
			ClusterMode:      bool(cfg.ClusterMode),
			TLS:              bool(cfg.TLSMode),
			IOThreads:        cfg.IOThreads,
			BenchmarkThreads: cfg.BenchmarkThreads,
			Architecture:     sysinfo.Machine(),
		},
		Log: log,
	}
	if o.OwnServers && !o.SkipConfigApply && needsApply(cfg) {
		c.Applier = run.Launcher
	}
	if !o.NoProfiling {
		c.NewProfiler = func(ctx context.Context) (executor.Profiler, error) {
			p, err := profiler.New(filepath.Join(dir, "flamegraphs"), filepath.Join(o.ResultsDir, "FlameGraph"), proc.ExecRunner{}, log)
			if err != nil {
				return nil, err
			}
			if err := p.EnsureScripts(ctx); err != nil {
				log.Warn("Flamegraph scripts unavailable, only perf reports will be written", "error", err)
			}
			return p, nil
		}
	}
	run.Controller = c
	return run, nil
}

// needsApply reports whether config sets change the servers: more than one set, or
// one that carries server directives.
func needsApply(cfg *config.Config) bool {
	if cfg.Shape() != config.Grouped {
		return false
	}
	if len(cfg.ConfigSets) > 1 {
		return true
	}
	for _, set := range cfg.ConfigSets {
		if _, ok := set["server"]; ok {
			return true
		}
		if _, ok := set["io_threads"]; ok {
			return true
		}
	}
	return false
}
