// Package runner drives one benchmark configuration end to end for one commit.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/executor"
	"github.com/runningwild/vbench/pkg/metrics"
	"github.com/runningwild/vbench/pkg/proc"
	"github.com/runningwild/vbench/pkg/scenario"
)

const (
	commitTimeout = 10 * time.Second
	timeLayout    = "2006-01-02T15:04:05Z"
)

// Applier reconfigures the servers for a config set.
type Applier interface {
	Apply(ctx context.Context, set map[string]any) error
}

// Controller runs every unit of a config in order and persists what they produce.
type Controller struct {
	Cfg       *config.Config
	Commit    string
	SourceDir string // server source checkout, for commit metadata
	Runner    proc.Runner
	Exec      *executor.Executor // Metrics, Profiler and Sink are filled in by Run
	Planner   *scenario.Planner

	// Applier is nil when config sets are not applied to the servers.
	Applier Applier

	NewSink     func() metrics.Sink
	NewProfiler func(ctx context.Context) (executor.Profiler, error) // nil disables profiling
	Metrics     metrics.Builder                                      // run-wide fields; commit fields are set by Run

	Log *slog.Logger
	now func() time.Time
}

func (c *Controller) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// CommitTime returns the committer date of commit in dir, or the current UTC time
// when git cannot say.
func CommitTime(ctx context.Context, r proc.Runner, dir, commit string, now func() time.Time, log *slog.Logger) string {
	argv := []string{"git", "-C", dir, "show", "-s", "--format=%cI", commit}
	out, _, err := proc.Bounded(ctx, r, commitTimeout, argv)
	if ts := strings.TrimSpace(out); err == nil && ts != "" {
		return ts
	}
	if err != nil {
		log.Error("Failed to get commit time", "commit", commit, "error", err)
	}
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(timeLayout)
}

// Run executes the config. Flat-mode errors abort it; grouped units that fail are
// recorded and the run continues. The returned entries are the ones handed to the sink.
func (c *Controller) Run(ctx context.Context) ([]metrics.Entry, error) {
	log := c.log()
	b := c.Metrics
	b.Commit = c.Commit
	b.CommitTime = CommitTime(ctx, c.Runner, c.SourceDir, c.Commit, c.now, log)
	c.Exec.Metrics = &b

	// The first config set decides for the whole run.
	var sink metrics.Sink
	c.Exec.Profiler = nil
	if c.Cfg.ProfilingEnabled() && c.NewProfiler != nil {
		p, err := c.NewProfiler(ctx)
		if err != nil {
			log.Warn("Profiler unavailable, continuing without it", "error", err)
		} else {
			c.Exec.Profiler = p
		}
	}
	if c.Exec.Profiler == nil && c.NewSink != nil {
		sink = c.NewSink()
	}
	c.Exec.Sink = sink != nil

	units := c.Planner.Units()
	log.Info("Planned units", "shape", c.Cfg.Shape().String(), "units", len(units), "config_sets", len(c.Cfg.ConfigSets))

	var entries []metrics.Entry
	var err error
	if c.Cfg.Shape() == config.Grouped {
		entries = c.runGrouped(ctx, units)
	} else {
		entries, err = c.runFlat(ctx, units)
		if err != nil {
			return nil, err
		}
	}

	if len(entries) == 0 {
		log.Info("No metrics collected, skipping metrics write")
		return nil, nil
	}
	if sink == nil {
		log.Warn("Records collected without a metrics sink, dropping", "count", len(entries))
		return nil, nil
	}
	if err := sink.Write(entries); err != nil {
		return entries, fmt.Errorf("writing metrics: %w", err)
	}
	log.Info("Metrics written", "count", len(entries))
	return entries, nil
}

func (c *Controller) runFlat(ctx context.Context, units []scenario.Unit) ([]metrics.Entry, error) {
	var set map[string]any
	if len(c.Cfg.ConfigSets) > 0 {
		set = c.Cfg.ConfigSets[0]
	}
	var entries []metrics.Entry
	for i, u := range units {
		c.log().Debug("Unit", "index", i+1, "of", len(units))
		out, err := c.Exec.Execute(ctx, u, set)
		if err != nil {
			return nil, err
		}
		if out.Entry != nil {
			entries = append(entries, out.Entry)
		}
	}
	return entries, nil
}

func (c *Controller) runGrouped(ctx context.Context, units []scenario.Unit) []metrics.Entry {
	var entries []metrics.Entry
	for _, set := range c.Cfg.ConfigSets {
		log := c.log().With("config_set", config.SetName(set))
		if c.Applier != nil {
			if err := c.Applier.Apply(ctx, set); err != nil {
				log.Error("Applying config set failed, skipping it", "error", err)
				continue
			}
		}
		for _, u := range units {
			out, err := c.Exec.Execute(ctx, u, set)
			if err != nil {
				// Flush and setup failures abort the scenario without a marker.
				log.Error("Scenario aborted", "group", u.Group, "scenario", u.Scenario.ID, "error", err)
				continue
			}
			if out.Entry != nil {
				entries = append(entries, out.Entry)
			}
		}
	}
	return entries
}
