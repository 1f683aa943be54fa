// Package export publishes a run's results: gauges to a Prometheus Pushgateway and
// result files to S3.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/runningwild/vbench/pkg/metrics"
)

// Every gauge carries the same label names; optional ones are empty when unset.
var labelNames = []string{
	"commit", "commit_time", "command", "data_size", "pipeline", "clients", "cluster_mode", "tls",
	"io_threads", "benchmark_threads", "benchmark_mode", "duration", "requests", "warmup",
}

type gauge struct {
	name  string
	help  string
	value func(*metrics.Record) float64
}

var gauges = []gauge{
	{"valkey_rps", "Requests per second", func(r *metrics.Record) float64 { return r.RPS }},
	{"valkey_avg_latency_ms", "Average latency in milliseconds", func(r *metrics.Record) float64 { return r.AvgLatencyMs }},
	{"valkey_min_latency_ms", "Minimum latency in milliseconds", func(r *metrics.Record) float64 { return r.MinLatencyMs }},
	{"valkey_p50_latency_ms", "Median latency in milliseconds", func(r *metrics.Record) float64 { return r.P50LatencyMs }},
	{"valkey_p95_latency_ms", "95th percentile latency in milliseconds", func(r *metrics.Record) float64 { return r.P95LatencyMs }},
	{"valkey_p99_latency_ms", "99th percentile latency in milliseconds", func(r *metrics.Record) float64 { return r.P99LatencyMs }},
	{"valkey_max_latency_ms", "Maximum latency in milliseconds", func(r *metrics.Record) float64 { return r.MaxLatencyMs }},
}

func optional(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// Labels returns a record's label values keyed by name.
func Labels(r *metrics.Record) prometheus.Labels {
	return prometheus.Labels{
		"commit":            r.Commit,
		"commit_time":       strings.Replace(r.Timestamp, "Z", "+00:00", 1),
		"command":           r.Command,
		"data_size":         strconv.Itoa(r.DataSize),
		"pipeline":          strconv.Itoa(r.Pipeline),
		"clients":           strconv.Itoa(r.Clients),
		"cluster_mode":      strconv.FormatBool(r.ClusterMode),
		"tls":               strconv.FormatBool(r.TLS),
		"io_threads":        optional(r.IOThreads),
		"benchmark_threads": optional(r.BenchmarkThreads),
		"benchmark_mode":    r.BenchmarkMode,
		"duration":          optional(r.Duration),
		"requests":          optional(r.Requests),
		"warmup":            optional(r.Warmup),
	}
}

// Registry builds a registry holding one gauge per metric and record. Records with
// identical labels overwrite each other; the last one wins.
func Registry(recs []*metrics.Record) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, g := range gauges {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: g.name, Help: g.help}, labelNames)
		if err := reg.Register(vec); err != nil {
			return nil, fmt.Errorf("registering %s: %w", g.name, err)
		}
		for _, r := range recs {
			vec.With(Labels(r)).Set(g.value(r))
		}
	}
	return reg, nil
}

// Push sends recs to a Pushgateway under job.
func Push(gateway, job string, recs []*metrics.Record) error {
	reg, err := Registry(recs)
	if err != nil {
		return err
	}
	if err := push.New(gateway, job).Gatherer(reg).Push(); err != nil {
		return fmt.Errorf("pushing to %s: %w", gateway, err)
	}
	return nil
}

// WriteText prints recs in exposition format with non-empty labels only, for dry runs.
func WriteText(w io.Writer, recs []*metrics.Record) error {
	for _, r := range recs {
		labels := Labels(r)
		var parts []string
		for _, name := range labelNames {
			if v := labels[name]; v != "" {
				parts = append(parts, fmt.Sprintf("%s=%q", name, v))
			}
		}
		for _, g := range gauges {
			if _, err := fmt.Fprintf(w, "%s{%s} %s\n", g.name, strings.Join(parts, ","), strconv.FormatFloat(g.value(r), 'f', -1, 64)); err != nil {
				return err
			}
		}
	}
	return nil
}
