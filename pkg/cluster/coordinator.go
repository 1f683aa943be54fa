// Package cluster runs one scenario against every node of a multi-node topology at
// once and folds the per-node results into one.
package cluster

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/csvresult"
	"github.com/runningwild/vbench/pkg/proc"
)

var (
	ErrAllFailed      = errors.New("all parallel benchmarks failed")
	ErrNoValidMetrics = errors.New("no valid metrics from parallel benchmarks")
)

// NodeResult is the captured output of one client process.
type NodeResult struct {
	Port   int
	Stdout string
	Stderr string
}

// Opts are the per-invocation knobs shared by every client.
type Opts struct {
	Warmup         bool
	WarmupDuration int
	Seed           int
}

// Coordinator fans a scenario out to every node.
type Coordinator struct {
	Runner       proc.Runner
	Builder      *command.Builder
	Topo         config.Topology
	ClientRanges []string // per-client core ranges, used when clients are round-robined
	Log          *slog.Logger
}

type assignment struct {
	Port  int
	Cores string
}

// assign maps clients to nodes. An explicit parallel_clients count that differs from
// the node count wraps clients over nodes and core ranges; otherwise each node gets one
// client on its own cores.
func (c *Coordinator) assign(sc *config.Scenario) []assignment {
	n := sc.ParallelClients
	if n <= 0 || n == len(c.Topo) {
		out := make([]assignment, len(c.Topo))
		for i, node := range c.Topo {
			out[i] = assignment{Port: node.Port, Cores: node.Cores}
		}
		return out
	}
	out := make([]assignment, n)
	for i := range out {
		out[i].Port = c.Topo[i%len(c.Topo)].Port
		if len(c.ClientRanges) > 0 {
			out[i].Cores = c.ClientRanges[i%len(c.ClientRanges)]
		}
	}
	return out
}

func (c *Coordinator) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// Run launches every client concurrently and waits for all of them. Failed clients
// are logged and dropped; only if none succeed is an error returned.
func (c *Coordinator) Run(ctx context.Context, sc *config.Scenario, opts Opts) ([]NodeResult, error) {
	if len(c.Topo) == 0 {
		return nil, errors.New("no nodes to run against")
	}
	clients := c.assign(sc)

	var wg sync.WaitGroup
	results := make([]*NodeResult, len(clients))
	errs := make([]error, len(clients))

	argvs := make([][]string, len(clients))
	for i, a := range clients {
		argv, err := c.Builder.Scenario(sc, command.ScenarioOpts{
			Warmup:         opts.Warmup,
			WarmupDuration: opts.WarmupDuration,
			Port:           a.Port,
			Cores:          a.Cores,
			Seed:           opts.Seed,
		})
		if err != nil {
			return nil, err
		}
		argvs[i] = argv
	}

	// Fan out
	for i, a := range clients {
		c.log().Debug("Starting parallel client", "port", a.Port, "cores", a.Cores, "argv", argvs[i])

		wg.Add(1)
		go func(idx, port int, argv []string) {
			defer wg.Done()
			stdout, stderr, err := c.Runner.Run(ctx, argv)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = &NodeResult{Port: port, Stdout: stdout, Stderr: stderr}
		}(i, a.Port, argvs[i])
	}
	wg.Wait()

	var ok []NodeResult
	for i, r := range results {
		if errs[i] != nil {
			c.log().Warn("Parallel client failed", "port", clients[i].Port, "error", errs[i])
			continue
		}
		ok = append(ok, *r)
	}
	if len(ok) == 0 {
		return nil, ErrAllFailed
	}
	c.log().Info("Parallel clients finished", "succeeded", len(ok), "total", len(clients))
	return ok, nil
}

// Measure runs the scenario in parallel and aggregates the per-node rows.
func (c *Coordinator) Measure(ctx context.Context, sc *config.Scenario, opts Opts) (csvresult.Row, error) {
	results, err := c.Run(ctx, sc, opts)
	if err != nil {
		return nil, err
	}
	return Aggregate(results, sc.Command, c.log())
}

var weighted = []string{csvresult.AvgLat, csvresult.P50Lat, csvresult.P95Lat, csvresult.P99Lat}

// Aggregate folds node rows into one: throughput is summed, latencies other than min
// and max are weighted by each node's throughput, min and max are taken across nodes.
// Rows without a parseable throughput are skipped.
func Aggregate(results []NodeResult, cmd string, log *slog.Logger) (csvresult.Row, error) {
	var (
		totalRPS float64
		sums     = make(map[string]float64, len(weighted))
		minLat   = math.Inf(1)
		maxLat   = math.Inf(-1)
		n        int
	)
	for _, r := range results {
		row := csvresult.ParseFirstRow(r.Stdout)
		if row == nil {
			if log != nil {
				log.Warn("No CSV row from parallel client", "port", r.Port)
			}
			continue
		}
		rps, err := strconv.ParseFloat(row[csvresult.RPS], 64)
		if err != nil {
			if log != nil {
				log.Warn("Unparseable rps from parallel client", "port", r.Port, "value", row[csvresult.RPS])
			}
			continue
		}
		n++
		totalRPS += rps
		for _, k := range weighted {
			sums[k] += value(row, k) * rps
		}
		minLat = math.Min(minLat, value(row, csvresult.MinLat))
		maxLat = math.Max(maxLat, value(row, csvresult.MaxLat))
	}
	if n == 0 {
		return nil, ErrNoValidMetrics
	}

	agg := csvresult.Row{
		csvresult.Test:   cmd,
		csvresult.RPS:    formatFloat(totalRPS),
		csvresult.MinLat: formatFloat(minLat),
		csvresult.MaxLat: formatFloat(maxLat),
	}
	for _, k := range weighted {
		v := 0.0
		if totalRPS > 0 {
			v = sums[k] / totalRPS
		}
		agg[k] = formatFloat(v)
	}
	return agg, nil
}

// formatFloat keeps full precision; the row is parsed back into a record.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func value(row csvresult.Row, key string) float64 {
	f, err := strconv.ParseFloat(row[key], 64)
	if err != nil {
		return 0
	}
	return f
}
