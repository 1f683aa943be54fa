// Package metrics turns parsed load generator rows into the records a run persists.
package metrics

import (
	"strconv"
	"strings"

	"github.com/runningwild/vbench/pkg/csvresult"
)

// Entry is anything a sink accepts: a Record or a Failure.
type Entry interface {
	Failed() bool
}

// Record is one measured unit of work.
type Record struct {
	Timestamp     string `json:"timestamp"`
	Commit        string `json:"commit"`
	Command       string `json:"command"`
	DataSize      int    `json:"data_size"`
	Pipeline      int    `json:"pipeline"`
	Clients       int    `json:"clients"`
	Requests      *int   `json:"requests,omitempty"`
	Duration      *int   `json:"duration,omitempty"`
	BenchmarkMode string `json:"benchmark_mode"`
	Warmup        *int   `json:"warmup,omitempty"`

	RPS          float64 `json:"rps"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	ClusterMode      bool   `json:"cluster_mode"`
	TLS              bool   `json:"tls"`
	IOThreads        *int   `json:"io_threads,omitempty"`
	BenchmarkThreads *int   `json:"valkey_benchmark_threads,omitempty"`
	Architecture     string `json:"architecture,omitempty"`

	// Set for grouped scenarios only.
	TestID    string `json:"test_id,omitempty"`
	TestPhase string `json:"test_phase,omitempty"`
}

func (*Record) Failed() bool { return false }

// Failure stands in for a Record when a scenario could not be measured.
type Failure struct {
	TestID    string         `json:"test_id"`
	TestPhase string         `json:"test_phase"`
	Status    string         `json:"status"`
	Error     string         `json:"error"`
	Command   string         `json:"command"`
	Timestamp string         `json:"timestamp"`
	ConfigSet map[string]any `json:"config_set"`
}

func (*Failure) Failed() bool { return true }

// NewFailure builds a failure marker. The test id is "{group}_{id}".
func NewFailure(group, id, phase string, err error, command, timestamp string, configSet map[string]any) *Failure {
	if configSet == nil {
		configSet = map[string]any{}
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Failure{
		TestID:    group + "_" + id,
		TestPhase: phase,
		Status:    "failed",
		Error:     msg,
		Command:   command,
		Timestamp: timestamp,
		ConfigSet: configSet,
	}
}

// Builder holds the run-wide context stamped on every record.
type Builder struct {
	Commit           string
	CommitTime       string
	ClusterMode      bool
	TLS              bool
	IOThreads        *int
	BenchmarkThreads *int
	Architecture     string
}

// Params describes the invocation a row came from. Requests and Duration are
// mutually exclusive; nil means unset.
type Params struct {
	Command  string
	DataSize int
	Pipeline int
	Clients  int
	Requests *int
	Duration *int
	Warmup   *int
}

// Build converts a parsed row into a Record, or returns nil when there is no data.
// Values that do not parse as numbers become 0.
func (b *Builder) Build(row csvresult.Row, p Params) *Record {
	if len(row) == 0 {
		return nil
	}
	r := &Record{
		Timestamp:        b.CommitTime,
		Commit:           b.Commit,
		Command:          p.Command,
		DataSize:         p.DataSize,
		Pipeline:         p.Pipeline,
		Clients:          p.Clients,
		Warmup:           p.Warmup,
		RPS:              num(row, csvresult.RPS),
		AvgLatencyMs:     num(row, csvresult.AvgLat),
		MinLatencyMs:     num(row, csvresult.MinLat),
		P50LatencyMs:     num(row, csvresult.P50Lat),
		P95LatencyMs:     num(row, csvresult.P95Lat),
		P99LatencyMs:     num(row, csvresult.P99Lat),
		MaxLatencyMs:     num(row, csvresult.MaxLat),
		ClusterMode:      b.ClusterMode,
		TLS:              b.TLS,
		IOThreads:        b.IOThreads,
		BenchmarkThreads: b.BenchmarkThreads,
		Architecture:     b.Architecture,
	}
	switch {
	case p.Requests != nil:
		r.Requests = p.Requests
		r.BenchmarkMode = "requests"
	case p.Duration != nil:
		r.Duration = p.Duration
		r.BenchmarkMode = "duration"
	default:
		r.BenchmarkMode = "unknown"
	}
	return r
}

func num(row csvresult.Row, key string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(row[key]), 64)
	if err != nil {
		return 0
	}
	return f
}
