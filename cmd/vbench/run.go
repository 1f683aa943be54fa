package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/logging"
	"github.com/runningwild/vbench/pkg/proc"
	"github.com/runningwild/vbench/pkg/runner"
	"github.com/runningwild/vbench/pkg/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmarks described by a config file",
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return runBenchmarks(ctx, runArgsFromViper())
	},
}

func init() {
	f := runCmd.Flags()
	f.String("config", "./configs/benchmark-configs.json", "benchmark config file (JSON or YAML)")
	f.StringSlice("commits", []string{"HEAD"}, "commits to build and benchmark")
	f.String("baseline", "", "extra commit to include for comparison")
	f.String("valkey-path", "../valkey", "Valkey source tree")
	f.String("benchmark-path", "", "valkey-benchmark binary (default: the one in the source tree)")
	f.String("mode", "both", "what to run on this host: server, client or both")
	f.Bool("use-running-server", false, "benchmark an already built and running server")
	f.String("target-ip", "127.0.0.1", "server address")
	f.String("results-dir", "results", "results root; each commit gets a subdirectory")
	f.StringSlice("groups", nil, "only run these test groups")
	f.StringSlice("scenarios", nil, "only run these scenario ids")
	f.String("module-path", "", "server module to load")
	f.Bool("skip-config-apply", false, "do not restart servers with config set directives")
	f.Bool("no-profiling", false, "disable profiling even when config sets enable it")
	f.Bool("parquet", false, "also write each run's records as parquet")
}

type runArgs struct {
	Config           string
	Commits          []string
	Baseline         string
	ValkeyPath       string
	BenchmarkPath    string
	Mode             string
	UseRunningServer bool
	TargetIP         string
	ResultsDir       string
	Groups           []string
	Scenarios        []string
	ModulePath       string
	SkipConfigApply  bool
	NoProfiling      bool
	Parquet          bool
}

func runArgsFromViper() runArgs {
	return runArgs{
		Config:           viper.GetString("config"),
		Commits:          viper.GetStringSlice("commits"),
		Baseline:         viper.GetString("baseline"),
		ValkeyPath:       viper.GetString("valkey-path"),
		BenchmarkPath:    viper.GetString("benchmark-path"),
		Mode:             viper.GetString("mode"),
		UseRunningServer: viper.GetBool("use-running-server"),
		TargetIP:         viper.GetString("target-ip"),
		ResultsDir:       viper.GetString("results-dir"),
		Groups:           viper.GetStringSlice("groups"),
		Scenarios:        viper.GetStringSlice("scenarios"),
		ModulePath:       viper.GetString("module-path"),
		SkipConfigApply:  viper.GetBool("skip-config-apply"),
		NoProfiling:      viper.GetBool("no-profiling"),
		Parquet:          viper.GetBool("parquet"),
	}
}

// check rejects argument combinations before anything runs.
func (a runArgs) check(cfgs []*config.Config) error {
	switch a.Mode {
	case "server", "client", "both":
	default:
		return fmt.Errorf("--mode must be server, client or both, got %q", a.Mode)
	}
	if a.UseRunningServer && a.Mode != "client" {
		return errors.New("--use-running-server implies the server is already built and running, so --mode must be 'client'")
	}
	for _, c := range cfgs {
		if c.RequiresModule && a.ModulePath == "" {
			return errors.New("config requires a module but --module-path was not given")
		}
	}
	return nil
}

func (a runArgs) commits() []string {
	commits := slices.Clone(a.Commits)
	if a.Baseline != "" && !slices.Contains(commits, a.Baseline) {
		commits = append(commits, a.Baseline)
	}
	return commits
}

func runBenchmarks(ctx context.Context, a runArgs) error {
	cfgs, err := config.Load(a.Config)
	if err != nil {
		return fmt.Errorf("loading %s: %w", a.Config, err)
	}
	if err := a.check(cfgs); err != nil {
		return err
	}
	for i, cfg := range cfgs {
		slog.Info("Loaded config", "entry", i, "shape", cfg.Shape().String(), "cluster_mode", bool(cfg.ClusterMode), "tls", bool(cfg.TLSMode))
		for _, commit := range a.commits() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Failures past this point are recorded in the logs, not the exit status.
			if err := runMatrix(ctx, a, cfg, commit); err != nil {
				slog.Error("Benchmark run failed", "commit", commit, "error", err)
			}
		}
	}
	return nil
}

// runMatrix builds, launches and benchmarks one commit for one config entry.
func runMatrix(ctx context.Context, a runArgs, cfg *config.Config, commit string) error {
	opts := runner.Options{
		Commit:          commit,
		ValkeyPath:      a.ValkeyPath,
		BenchmarkPath:   a.BenchmarkPath,
		TargetIP:        a.TargetIP,
		ResultsDir:      a.ResultsDir,
		Groups:          a.Groups,
		Scenarios:       a.Scenarios,
		ModulePath:      a.ModulePath,
		OwnServers:      !a.UseRunningServer && a.Mode != "client",
		SkipConfigApply: a.SkipConfigApply,
		NoProfiling:     a.NoProfiling,
		Parquet:         a.Parquet,
	}
	logs, err := logging.Init(opts.CommitDir(), logging.ParseLevel(logLevel), nil)
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Logger.With("commit", commit)

	if !a.UseRunningServer {
		b := &server.Build{Runner: proc.ExecRunner{}, Dir: a.ValkeyPath, Commit: commit, TLS: bool(cfg.TLSMode), Log: log}
		if err := b.Run(ctx); err != nil {
			return err
		}
	} else {
		log.Info("Using pre-built Valkey instance")
	}

	run, err := runner.New(cfg, opts, log)
	if err != nil {
		return err
	}
	log.Info("Benchmark matrix", "tls", bool(cfg.TLSMode), "cluster", bool(cfg.ClusterMode))

	if run.Launcher != nil {
		if err := run.Launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launching servers: %w", err)
		}
	}
	if a.Mode == "server" {
		log.Info("Servers running, waiting for a remote client")
		return nil
	}
	if run.Launcher != nil {
		// Servers are left running when this host only hosts them.
		defer func() {
			if err := run.Launcher.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Shutting down servers", "error", err)
			}
		}()
	}

	for _, port := range run.Client.Ports {
		if err := run.Client.WaitReady(ctx, port, server.DefaultTimeout); err != nil {
			return fmt.Errorf("server on port %d: %w", port, err)
		}
	}
	_, err = run.Run(ctx)
	return err
}
