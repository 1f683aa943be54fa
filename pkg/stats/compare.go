package stats

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/runningwild/vbench/pkg/metrics"
)

// Key is the configuration two records must share to be compared.
type Key struct {
	Command     string
	DataSize    int
	Pipeline    int
	Clients     int
	ClusterMode bool
	TLS         bool
}

func keyOf(r *metrics.Record) Key {
	return Key{
		Command:     r.Command,
		DataSize:    r.DataSize,
		Pipeline:    r.Pipeline,
		Clients:     r.Clients,
		ClusterMode: r.ClusterMode,
		TLS:         r.TLS,
	}
}

func (a Key) compare(b Key) int {
	return cmp.Or(
		cmp.Compare(a.Command, b.Command),
		cmp.Compare(a.DataSize, b.DataSize),
		cmp.Compare(a.Pipeline, b.Pipeline),
		cmp.Compare(a.Clients, b.Clients),
		cmp.Compare(btoi(a.ClusterMode), btoi(b.ClusterMode)),
		cmp.Compare(btoi(a.TLS), btoi(b.TLS)),
	)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Metrics compared, in output order.
var Metrics = []string{"rps", "avg_latency", "p50_latency", "p95_latency", "p99_latency"}

// Summary holds one Series per metric for a group of records.
type Summary struct {
	Key    Key
	Series map[string]*Series
}

func newSummary(k Key) *Summary {
	s := &Summary{Key: k, Series: make(map[string]*Series, len(Metrics))}
	for _, m := range Metrics {
		s.Series[m] = NewSeries()
	}
	return s
}

func (s *Summary) add(r *metrics.Record) {
	s.Series["rps"].Record(r.RPS)
	s.Series["avg_latency"].Record(r.AvgLatencyMs)
	s.Series["p50_latency"].Record(r.P50LatencyMs)
	s.Series["p95_latency"].Record(r.P95LatencyMs)
	s.Series["p99_latency"].Record(r.P99LatencyMs)
}

// Group summarizes records by configuration.
func Group(recs []*metrics.Record) map[Key]*Summary {
	out := map[Key]*Summary{}
	for _, r := range recs {
		k := keyOf(r)
		s, ok := out[k]
		if !ok {
			s = newSummary(k)
			out[k] = s
		}
		s.add(r)
	}
	return out
}

// Delta is one metric of one configuration in both result sets.
type Delta struct {
	Key       Key
	Metric    string
	Baseline  float64 // mean
	Candidate float64 // mean
	StdDev    [2]float64
	Median    [2]float64
	Runs      [2]int64
}

func (d Delta) Diff() float64 { return d.Candidate - d.Baseline }

// Change is the percent change from baseline, or 0 when the baseline is 0.
func (d Delta) Change() float64 {
	return PctChange(d.Candidate, d.Baseline)
}

func PctChange(newV, oldV float64) float64 {
	if oldV == 0 {
		return 0
	}
	return (newV - oldV) / oldV * 100
}

// Compare lines up both result sets by configuration. A configuration present on only
// one side compares against zeros.
func Compare(baseline, candidate []*metrics.Record) []Delta {
	b, c := Group(baseline), Group(candidate)
	keys := make([]Key, 0, len(b)+len(c))
	for k := range b {
		keys = append(keys, k)
	}
	for k := range c {
		if _, ok := b[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, Key.compare)

	var out []Delta
	for _, k := range keys {
		bs, cs := b[k], c[k]
		if bs == nil {
			bs = newSummary(k)
		}
		if cs == nil {
			cs = newSummary(k)
		}
		for _, m := range Metrics {
			x, y := bs.Series[m], cs.Series[m]
			out = append(out, Delta{
				Key:       k,
				Metric:    m,
				Baseline:  x.Mean(),
				Candidate: y.Mean(),
				StdDev:    [2]float64{x.StdDev(), y.StdDev()},
				Median:    [2]float64{x.Quantile(50), y.Quantile(50)},
				Runs:      [2]int64{x.Count(), y.Count()},
			})
		}
	}
	return out
}

// Version labels a result set by its commit, shortened to 8 characters when it is
// longer than 12, or by timestamp when there is no commit.
func Version(recs []*metrics.Record) string {
	if len(recs) == 0 {
		return "Unknown"
	}
	r := recs[0]
	switch {
	case r.Commit != "" && len(r.Commit) <= 12:
		return r.Commit
	case r.Commit != "":
		return r.Commit[:8]
	case r.Timestamp != "":
		return "ts-" + r.Timestamp
	}
	return "Unknown"
}

// WriteMarkdown renders deltas as a markdown table.
func WriteMarkdown(w io.Writer, deltas []Delta, baseline, candidate string) error {
	if _, err := fmt.Fprintf(w, "# Benchmark Comparison: %s vs %s\n\n", baseline, candidate); err != nil {
		return err
	}
	if len(deltas) == 0 {
		_, err := fmt.Fprintln(w, "No data to compare.")
		return err
	}
	fmt.Fprintf(w, "| Command | Data size | Pipeline | Clients | Cluster | TLS | Metric | %s | %s | Diff | %% Change |\n", baseline, candidate)
	fmt.Fprintln(w, "| --- | --- | --- | --- | --- | --- | --- | --- | --- | --- | --- |")
	for _, d := range deltas {
		k := d.Key
		_, err := fmt.Fprintf(w, "| %s | %d | %d | %d | %s | %s | %s | %s | %s | %.2f | %+.2f%% |\n",
			k.Command, k.DataSize, k.Pipeline, k.Clients,
			strconv.FormatBool(k.ClusterMode), strconv.FormatBool(k.TLS), d.Metric,
			withSpread(d.Baseline, d.StdDev[0], d.Runs[0]),
			withSpread(d.Candidate, d.StdDev[1], d.Runs[1]),
			d.Diff(), d.Change())
		if err != nil {
			return err
		}
	}
	return nil
}

func withSpread(mean, sd float64, n int64) string {
	if n < 2 {
		return fmt.Sprintf("%.2f", mean)
	}
	return fmt.Sprintf("%.2f ±%.2f", mean, sd)
}
