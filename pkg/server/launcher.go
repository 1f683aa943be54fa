package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/proc"
)

const clusterSlots = 16384

// Launcher starts and stops local server processes for a run.
type Launcher struct {
	ServerPath string
	Client     *Client
	Runner     proc.Runner
	Cfg        *config.Config
	Host       string
	LogDir     string
	ModulePath string
	IOThreads  *int
	Args       map[string]any // extra server directives from the active config set
	Log        *slog.Logger

	ReadyTimeout time.Duration
}

func (l *Launcher) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l *Launcher) readyTimeout() time.Duration {
	if l.ReadyTimeout > 0 {
		return l.ReadyTimeout
	}
	return 60 * time.Second
}

// Argv builds the command line for the server on port, pinned to cores if set.
func (l *Launcher) Argv(port int, cores string) []string {
	var cmd []string
	if cores != "" {
		cmd = append(cmd, "taskset", "-c", cores)
	}
	cmd = append(cmd, l.ServerPath)
	p := strconv.Itoa(port)
	if l.Cfg.TLSMode {
		cmd = append(cmd,
			"--tls-port", p, "--port", "0",
			"--tls-cert-file", "./tests/tls/valkey.crt",
			"--tls-key-file", "./tests/tls/valkey.key",
			"--tls-ca-cert-file", "./tests/tls/ca.crt",
		)
	} else {
		cmd = append(cmd, "--port", p)
	}
	cluster := "no"
	if l.Cfg.ClusterMode {
		cluster = "yes"
	}
	cmd = append(cmd,
		"--daemonize", "yes",
		"--maxmemory-policy", "allkeys-lru",
		"--appendonly", "no",
		"--save", "",
		"--cluster-enabled", cluster,
		"--logfile", filepath.Join(l.LogDir, fmt.Sprintf("valkey_%d.log", port)),
	)
	if l.Cfg.ClusterMode {
		cmd = append(cmd, "--cluster-config-file", fmt.Sprintf("nodes_%d.conf", port))
	}
	threads := l.IOThreads
	if threads == nil {
		threads = l.Cfg.IOThreads
	}
	if threads != nil {
		cmd = append(cmd, "--io-threads", strconv.Itoa(*threads))
	}
	if l.ModulePath != "" {
		cmd = append(cmd, "--loadmodule", l.ModulePath)
	}

	keys := make([]string, 0, len(l.Args))
	for k := range l.Args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		cmd = append(cmd, "--"+strings.TrimPrefix(k, "--"), directive(l.Args[k]))
	}
	return cmd
}

func directive(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Launch starts one server per active port, waits for each, and forms the cluster.
func (l *Launcher) Launch(ctx context.Context) error {
	ports := l.Cfg.ActivePorts()
	ranges, err := l.Cfg.ServerRanges()
	if err != nil {
		return err
	}
	for i, port := range ports {
		cores := ""
		if len(ranges) > 0 {
			cores = ranges[i%len(ranges)]
		}
		argv := l.Argv(port, cores)
		l.log().Info("Starting server", "port", port, "cores", cores)
		if _, _, err := proc.Bounded(ctx, l.Runner, DefaultTimeout, argv); err != nil {
			return fmt.Errorf("starting server on port %d: %w", port, err)
		}
	}
	for _, port := range ports {
		if err := l.Client.WaitReady(ctx, port, l.readyTimeout()); err != nil {
			return fmt.Errorf("port %d: %w", port, err)
		}
	}
	if l.Cfg.ClusterMode {
		if err := l.formCluster(ctx, ports); err != nil {
			return err
		}
	}
	return nil
}

// resetNodes empties every node and drops the cluster state it may have
// reloaded from its nodes_<port>.conf, so the cluster can be formed again.
func (l *Launcher) resetNodes(ctx context.Context, ports []int) error {
	for _, port := range ports {
		if _, err := l.Client.do(ctx, l.Client.timeout(), port, "FLUSHALL"); err != nil {
			return fmt.Errorf("port %d: flushall: %w", port, err)
		}
		if _, err := l.Client.do(ctx, l.Client.timeout(), port, "CLUSTER", "RESET", "HARD"); err != nil {
			return fmt.Errorf("port %d: cluster reset: %w", port, err)
		}
	}
	return nil
}

func (l *Launcher) formCluster(ctx context.Context, ports []int) error {
	if err := l.resetNodes(ctx, ports); err != nil {
		return err
	}
	if len(ports) == 1 {
		if _, err := l.Client.do(ctx, l.Client.timeout(), ports[0], "CLUSTER", "ADDSLOTSRANGE", "0", strconv.Itoa(clusterSlots-1)); err != nil {
			return fmt.Errorf("assigning slots: %w", err)
		}
	} else {
		host := l.Host
		if host == "" {
			host = "127.0.0.1"
		}
		args := []string{"--cluster", "create"}
		for _, p := range ports {
			args = append(args, fmt.Sprintf("%s:%d", host, p))
		}
		args = append(args, "--cluster-replicas", "0", "--cluster-yes")
		argv := l.Client.Builder.CLI(ports[0], args...)
		if _, _, err := proc.Bounded(ctx, l.Runner, 2*DefaultTimeout, argv); err != nil {
			return fmt.Errorf("creating cluster: %w", err)
		}
	}
	return l.WaitCluster(ctx, ports)
}

// WaitCluster blocks until every node reports cluster_state:ok.
func (l *Launcher) WaitCluster(ctx context.Context, ports []int) error {
	for _, port := range ports {
		err := l.Client.poll(ctx, l.readyTimeout(), func() error {
			info, err := l.Client.ClusterInfo(ctx, port)
			if err != nil {
				return err
			}
			if info["cluster_state"] != "ok" {
				return fmt.Errorf("cluster_state=%q", info["cluster_state"])
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("cluster on port %d: %w", port, err)
		}
	}
	l.log().Info("Cluster ready", "nodes", len(ports))
	return nil
}

// Shutdown stops every server without saving. Connection errors from the dying
// server are expected and only logged.
func (l *Launcher) Shutdown(ctx context.Context) error {
	for _, port := range l.Cfg.ActivePorts() {
		if _, err := l.Client.do(ctx, l.Client.timeout(), port, "SHUTDOWN", "NOSAVE"); err != nil {
			l.log().Debug("Shutdown reply", "port", port, "error", err)
		}
		err := l.Client.poll(ctx, l.readyTimeout(), func() error {
			if l.Client.Ping(ctx, port) == nil {
				return fmt.Errorf("still answering")
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("port %d did not stop: %w", port, err)
		}
	}
	return nil
}

// Restart stops and relaunches the servers, leaving an empty keyspace.
func (l *Launcher) Restart(ctx context.Context) error {
	if err := l.Shutdown(ctx); err != nil {
		return err
	}
	return l.Launch(ctx)
}

// Apply restarts the servers with a config set's "server" directives and
// "io_threads" override.
func (l *Launcher) Apply(ctx context.Context, set map[string]any) error {
	args, _ := set["server"].(map[string]any)
	l.Args = args
	l.IOThreads = nil
	if n, ok := config.IntSetting(set, "io_threads"); ok {
		l.IOThreads = &n
	}
	l.log().Info("Applying config set", "name", config.SetName(set), "directives", len(args))
	return l.Restart(ctx)
}
