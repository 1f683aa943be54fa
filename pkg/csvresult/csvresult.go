// Package csvresult decodes the load generator's --csv output.
package csvresult

import (
	"encoding/csv"
	"strings"
)

// Column names written by the load generator.
const (
	Test   = "test"
	RPS    = "rps"
	AvgLat = "avg_latency_ms"
	MinLat = "min_latency_ms"
	P50Lat = "p50_latency_ms"
	P95Lat = "p95_latency_ms"
	P99Lat = "p99_latency_ms"
	MaxLat = "max_latency_ms"
)

// Row is one decoded data line keyed by column name. Values are left as text.
type Row map[string]string

// FindHeader returns the index of the first line that looks like the CSV header.
// Progress output and warnings commonly precede it.
func FindHeader(lines []string) (int, bool) {
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, `"test","rps"`) || strings.HasPrefix(l, "test,rps") {
			return i, true
		}
	}
	return 0, false
}

// ParseFirstRow decodes the first data row after the header. It returns nil when the
// output is empty, has no header, or has a header but no data.
// Later rows are ignored: some commands print a row per sub-metric and the first is the headline.
func ParseFirstRow(raw string) Row {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	idx, ok := FindHeader(lines)
	if !ok {
		return nil
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines[idx:], "\n")))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil
	}
	for {
		rec, err := r.Read()
		if err != nil {
			return nil
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[strings.TrimSpace(name)] = strings.TrimSpace(rec[i])
			}
		}
		return row
	}
}
