// Package executor runs one unit of work: it resets the server, populates, warms up,
// profiles, invokes the load generator, and turns its output into a record.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runningwild/vbench/pkg/cluster"
	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/csvresult"
	"github.com/runningwild/vbench/pkg/metrics"
	"github.com/runningwild/vbench/pkg/proc"
	"github.com/runningwild/vbench/pkg/profiler"
	"github.com/runningwild/vbench/pkg/scenario"
	"github.com/runningwild/vbench/pkg/server"
)

// Server is the part of the server client the executor needs.
type Server interface {
	Flush(ctx context.Context) error
	Exec(ctx context.Context, line string) (string, error)
}

// Parallel runs a scenario on every node at once.
type Parallel interface {
	Run(ctx context.Context, sc *config.Scenario, opts cluster.Opts) ([]cluster.NodeResult, error)
	Measure(ctx context.Context, sc *config.Scenario, opts cluster.Opts) (csvresult.Row, error)
}

// Profiler records the server in the background between Start and Stop.
type Profiler interface {
	Start(ctx context.Context, id string, s profiler.Settings, t profiler.Target)
	Stop(ctx context.Context, id string)
}

// Outcome is what a unit produced. Entry is nil unless State is Success, or Failed
// with a sink active.
type Outcome struct {
	State State
	Entry metrics.Entry
}

// Executor runs units one at a time. It is not safe for concurrent use; units share
// the server keyspace.
type Executor struct {
	Cfg       *config.Config
	Topo      config.Topology
	Builder   *command.Builder
	Runner    proc.Runner
	Server    Server
	Restarter server.Restarter // nil when the harness does not own the servers
	Parallel  Parallel
	Metrics   *metrics.Builder
	Profiler  Profiler // nil when the run is not profiling
	Sink      bool     // whether failures become markers
	Process   string   // server process name for the profiler
	Log       *slog.Logger
}

func (e *Executor) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Executor) enter(s State, attrs ...any) State {
	e.log().Debug("Unit state", append([]any{"state", s.String()}, attrs...)...)
	return s
}

// Execute runs u under the given config set. Errors returned here are the ones
// that abort the run or the scenario preamble; measured-phase failures are folded
// into the outcome.
func (e *Executor) Execute(ctx context.Context, u scenario.Unit, set map[string]any) (Outcome, error) {
	if u.Kind == scenario.KindScenario {
		return e.executeScenario(ctx, u, set)
	}
	return e.executeFlat(ctx, u, set)
}

func intp(v int) *int { return &v }

func (e *Executor) reset(ctx context.Context) error {
	if e.Restarter != nil {
		e.log().Info("Restarting server for a clean keyspace")
		return e.Restarter.Restart(ctx)
	}
	return e.Server.Flush(ctx)
}

func (e *Executor) executeFlat(ctx context.Context, u scenario.Unit, set map[string]any) (Outcome, error) {
	p := u.Flat
	log := e.log().With("command", p.Command, "data_size", p.DataSize, "pipeline", p.Pipeline, "clients", p.Clients, "run", u.Run)
	log.Info("Running benchmark", "requests", p.Requests, "duration", p.Duration, "keyspacelen", p.Keyspacelen, "warmup", p.Warmup, "seed", u.Seed)

	e.enter(FlushOrRestart)
	if err := e.reset(ctx); err != nil {
		return Outcome{State: Failed}, fmt.Errorf("resetting server: %w", err)
	}

	if u.Populate != "" {
		e.enter(Populate, "with", u.Populate)
		pop := p
		pop.Command = u.Populate
		pop.Sequential = true
		pop.Warmup = 0
		if _, _, err := e.Runner.Run(ctx, e.Builder.Flat(pop)); err != nil {
			log.Error("Populate failed", "error", err)
			return Outcome{State: Failed}, nil
		}
	}

	ps := profiler.ParseSettings(set, e.log())
	profiling := ps.Enabled && e.Profiler != nil
	id := fmt.Sprintf("flat_%s_d%d_p%d_c%d_%d", p.Command, p.DataSize, p.Pipeline, p.Clients, u.Run)
	if profiling {
		e.enter(ProfileStart, "id", id)
		e.Profiler.Start(ctx, id, ps, profiler.Target{Process: e.process()})
	}

	e.enter(Running)
	stdout, _, err := e.Runner.Run(ctx, e.Builder.Flat(p))

	if profiling {
		e.enter(ProfileStop, "id", id)
		e.Profiler.Stop(ctx, id)
	}
	if err != nil {
		// Flat runs log and move on; they never produce failure markers.
		log.Error("Benchmark failed", "error", err)
		return Outcome{State: Failed}, nil
	}

	e.enter(Parsing)
	params := metrics.Params{
		Command:  p.Command,
		DataSize: p.DataSize,
		Pipeline: p.Pipeline,
		Clients:  p.Clients,
		Warmup:   intp(p.Warmup),
	}
	if p.Duration > 0 {
		params.Duration = intp(p.Duration)
	} else if p.Requests > 0 {
		params.Requests = intp(p.Requests)
	}
	rec := e.Metrics.Build(csvresult.ParseFirstRow(stdout), params)
	if rec == nil {
		log.Warn("No CSV data in benchmark output")
		return Outcome{State: NoData}, nil
	}
	if profiling {
		log.Info("Profiling run, metrics not recorded")
		return Outcome{State: Success}, nil
	}
	return Outcome{State: Success, Entry: rec}, nil
}

func (e *Executor) process() string {
	if e.Process != "" {
		return e.Process
	}
	return "valkey-server"
}

// SessionID names a grouped profiling session: group, phase, scenario id and
// the config set's name when it has one.
func SessionID(group string, sc *config.Scenario, set map[string]any) string {
	id := fmt.Sprintf("%s_%s_%s", group, sc.Type, sc.ID)
	if name := config.SetName(set); name != "" {
		id += "_" + name
	}
	return id
}

func (e *Executor) parallel(sc *config.Scenario) bool {
	return sc.Parallel() && e.Topo.Multi() && e.Parallel != nil
}

func (e *Executor) executeScenario(ctx context.Context, u scenario.Unit, set map[string]any) (Outcome, error) {
	sc := u.Scenario
	log := e.log().With("group", u.Group, "scenario", sc.ID)
	log.Info("Running scenario", "type", sc.Type, "command", sc.Command, "parallel", e.parallel(sc))

	if sc.Flush {
		e.enter(FlushOrRestart)
		if err := e.Server.Flush(ctx); err != nil {
			return Outcome{State: Failed}, fmt.Errorf("scenario %s: flush: %w", sc.ID, err)
		}
	}
	if len(sc.SetupCommands) > 0 {
		e.enter(Setup)
		for _, line := range sc.SetupCommands {
			log.Info("Setup command", "line", line)
			if _, err := e.Server.Exec(ctx, line); err != nil {
				return Outcome{State: Failed}, fmt.Errorf("scenario %s: setup command %q: %w", sc.ID, line, err)
			}
		}
	}

	settings := scenario.Settings(set, sc)
	warmup, hasWarmup := config.IntSetting(settings, "warmup")
	if warmup > 0 {
		e.enter(Warmup, "seconds", warmup)
		if err := e.warmup(ctx, sc, u.Seed, warmup); err != nil {
			log.Warn("Warmup failed", "error", err)
		}
	}

	ps := profiler.ParseSettings(settings, e.log())
	profiling := ps.Enabled && e.Profiler != nil
	id := SessionID(u.Group, sc, set)
	if profiling {
		e.enter(ProfileStart, "id", id)
		t := profiler.Target{Process: e.process()}
		if e.Topo.Multi() && len(e.Topo) > 0 {
			t.Port = e.Topo[0].Port
		}
		e.Profiler.Start(ctx, id, ps, t)
	}

	e.enter(Running)
	row, err := e.measure(ctx, sc, u.Seed)

	if profiling {
		e.enter(ProfileStop, "id", id)
		e.Profiler.Stop(ctx, id)
	}
	if err != nil {
		e.enter(Failed)
		log.Error("Scenario failed", "error", err)
		if !e.Sink {
			return Outcome{State: Failed}, nil
		}
		return Outcome{
			State: Failed,
			Entry: metrics.NewFailure(u.Group, sc.ID, sc.Type, err, sc.Command, e.Metrics.CommitTime, set),
		}, nil
	}

	e.enter(Parsing)
	params := e.scenarioParams(sc)
	if hasWarmup {
		params.Warmup = intp(warmup)
	}
	rec := e.Metrics.Build(row, params)
	if rec == nil {
		log.Warn("No CSV data in scenario output")
		return Outcome{State: NoData}, nil
	}
	if profiling {
		log.Info("Profiling run, metrics not recorded")
		return Outcome{State: Success}, nil
	}
	rec.TestID = u.Group + "_" + sc.ID
	rec.TestPhase = sc.Type
	log.Info("Scenario complete", "rps", rec.RPS, "p99_latency_ms", rec.P99LatencyMs)
	return Outcome{State: Success, Entry: rec}, nil
}

func (e *Executor) warmup(ctx context.Context, sc *config.Scenario, seed, seconds int) error {
	if e.parallel(sc) {
		_, err := e.Parallel.Run(ctx, sc, cluster.Opts{Warmup: true, WarmupDuration: seconds, Seed: seed})
		return err
	}
	argv, err := e.Builder.Scenario(sc, command.ScenarioOpts{Warmup: true, WarmupDuration: seconds, Seed: seed})
	if err != nil {
		return err
	}
	_, _, err = e.Runner.Run(ctx, argv)
	return err
}

// measure runs the measured invocation. The single-node path has no timeout.
func (e *Executor) measure(ctx context.Context, sc *config.Scenario, seed int) (csvresult.Row, error) {
	if e.parallel(sc) {
		return e.Parallel.Measure(ctx, sc, cluster.Opts{Seed: seed})
	}
	argv, err := e.Builder.Scenario(sc, command.ScenarioOpts{Seed: seed})
	if err != nil {
		return nil, err
	}
	stdout, _, err := e.Runner.Run(ctx, argv)
	if err != nil {
		return nil, err
	}
	return csvresult.ParseFirstRow(stdout), nil
}

func (e *Executor) scenarioParams(sc *config.Scenario) metrics.Params {
	p := metrics.Params{
		Command:  sc.Command,
		Pipeline: sc.Pipeline,
		Clients:  sc.Clients,
	}
	if len(e.Cfg.DataSizes) > 0 {
		p.DataSize = e.Cfg.DataSizes[0]
	}
	if p.Pipeline == 0 {
		p.Pipeline = e.Cfg.DefaultPipeline()
	}
	if p.Clients == 0 {
		p.Clients = e.Cfg.DefaultClients()
	}
	switch {
	case sc.Duration > 0:
		p.Duration = intp(sc.Duration)
	case sc.Requests > 0:
		p.Requests = intp(sc.Requests)
	case sc.MaxDocs > 0:
		p.Requests = intp(sc.MaxDocs)
	case e.Cfg.Duration > 0:
		p.Duration = intp(e.Cfg.Duration)
	}
	return p
}
