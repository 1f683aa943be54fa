package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/runningwild/vbench/pkg/csvresult"
)

func intp(v int) *int { return &v }

var sampleRow = csvresult.Row{
	"test":           "GET",
	"rps":            "150000.00",
	"avg_latency_ms": "0.5",
	"min_latency_ms": "0.1",
	"p50_latency_ms": "0.4",
	"p95_latency_ms": "0.8",
	"p99_latency_ms": "1.2",
	"max_latency_ms": "5.0",
}

func TestBuild(t *testing.T) {
	b := &Builder{Commit: "abc123", CommitTime: "2024-01-15T10:00:00Z", TLS: true}
	r := b.Build(sampleRow, Params{Command: "GET", DataSize: 64, Pipeline: 1, Clients: 50, Requests: intp(10000)})
	if r == nil {
		t.Fatal("Expected a record")
	}
	if r.Timestamp != "2024-01-15T10:00:00Z" || r.Commit != "abc123" || r.Command != "GET" {
		t.Errorf("Wrong identity fields: %+v", r)
	}
	if r.RPS != 150000 || r.AvgLatencyMs != 0.5 || r.MinLatencyMs != 0.1 || r.P50LatencyMs != 0.4 ||
		r.P95LatencyMs != 0.8 || r.P99LatencyMs != 1.2 || r.MaxLatencyMs != 5.0 {
		t.Errorf("Wrong numbers: %+v", r)
	}
	if r.ClusterMode || !r.TLS {
		t.Errorf("Wrong mode flags: %+v", r)
	}

	data, _ := json.Marshal(r)
	var m map[string]any
	json.Unmarshal(data, &m)
	for _, k := range []string{"io_threads", "valkey_benchmark_threads", "architecture", "warmup", "duration"} {
		if _, ok := m[k]; ok {
			t.Errorf("Expected %s to be absent, got %v", k, m[k])
		}
	}
}

func TestBuildOptionalFields(t *testing.T) {
	b := &Builder{Commit: "def456", ClusterMode: true, IOThreads: intp(4), BenchmarkThreads: intp(2), Architecture: "x86_64"}
	r := b.Build(sampleRow, Params{Command: "SET", Requests: intp(5000), Warmup: intp(10)})

	data, _ := json.Marshal(r)
	var m map[string]any
	json.Unmarshal(data, &m)
	want := map[string]any{
		"io_threads":               4.0,
		"valkey_benchmark_threads": 2.0,
		"architecture":             "x86_64",
		"warmup":                   10.0,
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
}

func TestBuildWarmupZeroIsPresent(t *testing.T) {
	b := &Builder{}
	r := b.Build(sampleRow, Params{Command: "GET", Warmup: intp(0)})
	data, _ := json.Marshal(r)
	var m map[string]any
	json.Unmarshal(data, &m)
	if v, ok := m["warmup"]; !ok || v != 0.0 {
		t.Errorf("Expected explicit warmup 0, got %v (present=%v)", v, ok)
	}
}

func TestBuildEmpty(t *testing.T) {
	b := &Builder{}
	if r := b.Build(nil, Params{Command: "GET"}); r != nil {
		t.Errorf("Expected nil for nil row, got %+v", r)
	}
	if r := b.Build(csvresult.Row{}, Params{Command: "GET"}); r != nil {
		t.Errorf("Expected nil for empty row, got %+v", r)
	}
}

func TestBuildNonNumeric(t *testing.T) {
	b := &Builder{}
	r := b.Build(csvresult.Row{"rps": "not_a_number", "avg_latency_ms": "0.5"}, Params{Command: "GET"})
	if r.RPS != 0 || r.AvgLatencyMs != 0.5 || r.MinLatencyMs != 0 {
		t.Errorf("Unexpected values: %+v", r)
	}
}

func TestBenchmarkMode(t *testing.T) {
	b := &Builder{}
	tests := []struct {
		name     string
		p        Params
		mode     string
		requests bool
		duration bool
	}{
		{"requests", Params{Requests: intp(10000)}, "requests", true, false},
		{"duration", Params{Duration: intp(30)}, "duration", false, true},
		{"neither", Params{}, "unknown", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := b.Build(sampleRow, tt.p)
			if r.BenchmarkMode != tt.mode {
				t.Errorf("mode = %s, want %s", r.BenchmarkMode, tt.mode)
			}
			if (r.Requests != nil) != tt.requests || (r.Duration != nil) != tt.duration {
				t.Errorf("requests=%v duration=%v", r.Requests, r.Duration)
			}
		})
	}
}

func TestNewFailure(t *testing.T) {
	f := NewFailure("1", "test1", "write", errors.New("timeout"), "SET foo bar", "2024-01-01T00:00:00", map[string]any{"io_threads": 4})
	if f.TestID != "1_test1" || f.TestPhase != "write" || f.Status != "failed" || f.Error != "timeout" ||
		f.Command != "SET foo bar" || f.Timestamp != "2024-01-01T00:00:00" || f.ConfigSet["io_threads"] != 4 {
		t.Errorf("Unexpected marker: %+v", f)
	}
	if !f.Failed() {
		t.Error("Failure must report Failed")
	}

	f = NewFailure("5", "search_idx", "read", errors.New("e"), "FT.SEARCH", "ts", nil)
	if f.TestID != "5_search_idx" {
		t.Errorf("test_id = %s", f.TestID)
	}
	data, _ := json.Marshal(f)
	var m map[string]any
	json.Unmarshal(data, &m)
	if cs, ok := m["config_set"].(map[string]any); !ok || len(cs) != 0 {
		t.Errorf("Expected empty config_set object, got %v", m["config_set"])
	}
}

func readArray(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestJSONSinkNewDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "new_results")
	s := NewJSONSink(dir)
	if err := s.Write([]Entry{&Record{Command: "GET", RPS: 100000}}); err != nil {
		t.Fatal(err)
	}
	items := readArray(t, filepath.Join(dir, FileName))
	if len(items) != 1 || items[0]["command"] != "GET" || items[0]["rps"] != 100000.0 {
		t.Errorf("Unexpected contents: %v", items)
	}
}

func TestJSONSinkAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	os.WriteFile(path, []byte(`[{"command":"SET","rps":50000,"extra":"kept"}]`), 0644)

	s := NewJSONSink(dir)
	if err := s.Write([]Entry{&Record{Command: "GET", RPS: 100000}}); err != nil {
		t.Fatal(err)
	}
	items := readArray(t, path)
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0]["command"] != "SET" || items[0]["extra"] != "kept" {
		t.Errorf("Existing entry changed: %v", items[0])
	}
	if items[1]["command"] != "GET" {
		t.Errorf("New entry not appended: %v", items[1])
	}
}

func TestJSONSinkEmptyDoesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty_test")
	if err := NewJSONSink(dir).Write(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Directory should not exist, stat err = %v", err)
	}
}

func TestJSONSinkStartsFresh(t *testing.T) {
	for name, content := range map[string]string{
		"corrupt":  "{not valid json!!!",
		"non-list": `{"key": "value"}`,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, FileName)
			os.WriteFile(path, []byte(content), 0644)
			if err := NewJSONSink(dir).Write([]Entry{&Record{Command: "GET"}}); err != nil {
				t.Fatal(err)
			}
			items := readArray(t, path)
			if len(items) != 1 || items[0]["command"] != "GET" {
				t.Errorf("Unexpected contents: %v", items)
			}
		})
	}
}

func TestReadFileSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONSink(dir)
	err := s.Write([]Entry{
		&Record{Command: "GET", RPS: 10},
		NewFailure("1", "x", "read", errors.New("boom"), "GET", "ts", nil),
		&Record{Command: "SET", RPS: 20},
	})
	if err != nil {
		t.Fatal(err)
	}
	recs, err := ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Command != "GET" || recs[1].RPS != 20 {
		t.Errorf("Unexpected records: %+v", recs)
	}
}

type errSink struct{ err error }

func (e errSink) Write([]Entry) error { return e.err }

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	m := MultiSink{errSink{boom}, NewJSONSink(dir)}
	err := m.Write([]Entry{&Record{Command: "GET"}})
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, FileName)); statErr != nil {
		t.Errorf("Second sink not written: %v", statErr)
	}
}

func TestParquetSink(t *testing.T) {
	dir := t.TempDir()
	s := NewParquetSink(dir)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	err := s.Write([]Entry{
		&Record{Command: "GET", RPS: 1, Requests: intp(100), BenchmarkMode: "requests"},
		NewFailure("1", "x", "read", errors.New("boom"), "GET", "ts", nil),
		&Record{Command: "SET", RPS: 2, Duration: intp(30), BenchmarkMode: "duration"},
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "metrics-20240102-030405.parquet")
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("Expected 2 rows, got %d", n)
	}
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatal(err)
	}
	if rows[0].Command != "GET" || rows[0].Requests != 100 || rows[0].Duration != -1 {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[1].Command != "SET" || rows[1].Duration != 30 || rows[1].Requests != -1 {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}
}

func TestParquetSinkOnlyFailures(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pq")
	err := NewParquetSink(dir).Write([]Entry{NewFailure("1", "x", "read", errors.New("boom"), "GET", "ts", nil)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Nothing to write, directory should not exist")
	}
}
