// Package command builds argument vectors for the load generator and the server's
// command-line client.
package command

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/shlex"

	"github.com/runningwild/vbench/pkg/config"
)

// TLS material lives in the server source tree, relative to the working directory.
var tlsFlags = []string{
	"--tls",
	"--cert", "./tests/tls/valkey.crt",
	"--key", "./tests/tls/valkey.key",
	"--cacert", "./tests/tls/ca.crt",
}

// TLSFlags returns a copy of the client-side TLS flags.
func TLSFlags() []string {
	return append([]string(nil), tlsFlags...)
}

// Builder turns parameter tuples and scenarios into load generator invocations.
// It has no side effects; the seed is always supplied by the caller.
type Builder struct {
	BenchmarkPath string
	CLIPath       string
	Host          string
	Cfg           *config.Config
	Topo          config.Topology
	Cores         string // default client core range, may be empty
}

// FlatParams is one point of a flat sweep.
type FlatParams struct {
	Requests    int // 0 means unset
	Duration    int // seconds, 0 means unset; wins over Requests
	Keyspacelen int
	DataSize    int
	Pipeline    int
	Clients     int
	Command     string
	Warmup      int
	Seed        int
	Sequential  bool
}

// ScenarioOpts carries the per-invocation knobs for a scenario run.
type ScenarioOpts struct {
	Warmup         bool
	WarmupDuration int
	Port           int    // 0 means the configured port
	Cores          string // overrides the default core range
	Seed           int
}

func (b *Builder) port(p int) int {
	if p > 0 {
		return p
	}
	if b.Cfg != nil && b.Cfg.Port > 0 {
		return b.Cfg.Port
	}
	return config.DefaultPort
}

func (b *Builder) tls() bool {
	return b.Cfg != nil && bool(b.Cfg.TLSMode)
}

func (b *Builder) head(cores string, port int) []string {
	if cores == "" {
		cores = b.Cores
	}
	var cmd []string
	if cores != "" {
		cmd = append(cmd, "taskset", "-c", cores)
	}
	cmd = append(cmd, b.BenchmarkPath)
	if b.tls() {
		cmd = append(cmd, tlsFlags...)
	}
	host := b.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return append(cmd, "-h", host, "-p", strconv.Itoa(b.port(port)))
}

// Flat builds a sweep invocation.
func (b *Builder) Flat(p FlatParams) []string {
	cmd := b.head("", 0)

	if p.Duration > 0 {
		cmd = append(cmd, "--duration", strconv.Itoa(p.Duration))
	} else if p.Requests > 0 {
		cmd = append(cmd, "-n", strconv.Itoa(p.Requests))
	}
	cmd = append(cmd,
		"-r", strconv.Itoa(p.Keyspacelen),
		"-d", strconv.Itoa(p.DataSize),
		"-P", strconv.Itoa(p.Pipeline),
		"-c", strconv.Itoa(p.Clients),
		"-t", p.Command,
	)
	if b.Cfg != nil && b.Cfg.BenchmarkThreads != nil {
		cmd = append(cmd, "--threads", strconv.Itoa(*b.Cfg.BenchmarkThreads))
	}
	if p.Warmup > 0 {
		cmd = append(cmd, "--warmup", strconv.Itoa(p.Warmup))
	}
	if p.Sequential {
		cmd = append(cmd, "--sequential")
	}
	if b.Topo.Multi() {
		cmd = append(cmd, "--cluster")
	}
	if b.Cfg == nil || b.Cfg.SeedEnabled(nil) {
		cmd = append(cmd, "--seed", strconv.Itoa(p.Seed))
	}
	return append(cmd, "--csv")
}

// Scenario builds a grouped-mode invocation. The scenario's command string is
// shell-lexed and placed after the flag section.
func (b *Builder) Scenario(sc *config.Scenario, opts ScenarioOpts) ([]string, error) {
	args, err := shlex.Split(sc.Command)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: lexing command: %w", sc.ID, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("scenario %s: empty command", sc.ID)
	}

	cmd := b.head(opts.Cores, opts.Port)

	if sc.Dataset != "" {
		abs, err := filepath.Abs(sc.Dataset)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: resolving dataset: %w", sc.ID, err)
		}
		cmd = append(cmd, "--dataset", abs)
		if sc.RootElement != "" {
			cmd = append(cmd, "--xml-root-element", sc.RootElement)
		}
		if sc.MaxDocs > 0 && sc.Type == "write" {
			cmd = append(cmd, "--maxdocs", strconv.Itoa(sc.MaxDocs))
		}
	}

	cmd = append(cmd, b.runLength(sc, opts)...)

	var clients, pipeline, keyspace int
	if b.Cfg != nil {
		clients, pipeline, keyspace = b.Cfg.DefaultClients(), b.Cfg.DefaultPipeline(), b.Cfg.DefaultKeyspacelen()
	}
	if sc.Clients > 0 {
		clients = sc.Clients
	}
	if sc.Pipeline > 0 {
		pipeline = sc.Pipeline
	}
	if sc.Keyspacelen > 0 {
		keyspace = sc.Keyspacelen
	}
	if clients > 0 {
		cmd = append(cmd, "-c", strconv.Itoa(clients))
	}
	if pipeline > 0 {
		cmd = append(cmd, "-P", strconv.Itoa(pipeline))
	}
	if keyspace > 0 {
		cmd = append(cmd, "-r", strconv.Itoa(keyspace))
	}
	if sc.Sequential {
		cmd = append(cmd, "--sequential")
	}
	// A single client against a multi-node cluster has to follow redirects.
	// Parallel clients each own one node.
	if !sc.Parallel() && b.Topo.Multi() {
		cmd = append(cmd, "--cluster")
	}
	if b.Cfg == nil || b.Cfg.SeedEnabled(sc) {
		cmd = append(cmd, "--seed", strconv.Itoa(opts.Seed))
	}
	cmd = append(cmd, "--csv", "--")
	return append(cmd, args...), nil
}

func (b *Builder) runLength(sc *config.Scenario, opts ScenarioOpts) []string {
	if opts.Warmup {
		return []string{"--duration", strconv.Itoa(opts.WarmupDuration)}
	}
	switch {
	case sc.Duration > 0:
		return []string{"--duration", strconv.Itoa(sc.Duration)}
	case sc.Requests > 0:
		return []string{"-n", strconv.Itoa(sc.Requests)}
	case sc.MaxDocs > 0:
		return []string{"-n", strconv.Itoa(sc.MaxDocs)}
	case b.Cfg != nil && b.Cfg.Duration > 0:
		return []string{"--duration", strconv.Itoa(b.Cfg.Duration)}
	}
	return nil
}

// CLI builds a command-line client invocation against one port.
func (b *Builder) CLI(port int, args ...string) []string {
	host := b.Host
	if host == "" {
		host = "127.0.0.1"
	}
	cmd := []string{b.CLIPath, "-h", host, "-p", strconv.Itoa(b.port(port))}
	if b.tls() {
		cmd = append(cmd, tlsFlags...)
	}
	return append(cmd, args...)
}
