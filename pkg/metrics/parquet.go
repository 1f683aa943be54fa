package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRow is the columnar shape of a Record. Optional fields become -1.
type parquetRow struct {
	Timestamp     string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Commit        string  `parquet:"name=commit, type=BYTE_ARRAY, convertedtype=UTF8"`
	TestID        string  `parquet:"name=test_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Command       string  `parquet:"name=command, type=BYTE_ARRAY, convertedtype=UTF8"`
	DataSize      int32   `parquet:"name=data_size, type=INT32"`
	Pipeline      int32   `parquet:"name=pipeline, type=INT32"`
	Clients       int32   `parquet:"name=clients, type=INT32"`
	Requests      int64   `parquet:"name=requests, type=INT64"`
	Duration      int32   `parquet:"name=duration, type=INT32"`
	BenchmarkMode string  `parquet:"name=benchmark_mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	RPS           float64 `parquet:"name=rps, type=DOUBLE"`
	AvgLatencyMs  float64 `parquet:"name=avg_latency_ms, type=DOUBLE"`
	MinLatencyMs  float64 `parquet:"name=min_latency_ms, type=DOUBLE"`
	P50LatencyMs  float64 `parquet:"name=p50_latency_ms, type=DOUBLE"`
	P95LatencyMs  float64 `parquet:"name=p95_latency_ms, type=DOUBLE"`
	P99LatencyMs  float64 `parquet:"name=p99_latency_ms, type=DOUBLE"`
	MaxLatencyMs  float64 `parquet:"name=max_latency_ms, type=DOUBLE"`
	ClusterMode   bool    `parquet:"name=cluster_mode, type=BOOLEAN"`
	TLS           bool    `parquet:"name=tls, type=BOOLEAN"`
	IOThreads     int32   `parquet:"name=io_threads, type=INT32"`
	Architecture  string  `parquet:"name=architecture, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func optional(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func toParquet(r *Record) parquetRow {
	return parquetRow{
		Timestamp:     r.Timestamp,
		Commit:        r.Commit,
		TestID:        r.TestID,
		Command:       r.Command,
		DataSize:      int32(r.DataSize),
		Pipeline:      int32(r.Pipeline),
		Clients:       int32(r.Clients),
		Requests:      int64(optional(r.Requests)),
		Duration:      int32(optional(r.Duration)),
		BenchmarkMode: r.BenchmarkMode,
		RPS:           r.RPS,
		AvgLatencyMs:  r.AvgLatencyMs,
		MinLatencyMs:  r.MinLatencyMs,
		P50LatencyMs:  r.P50LatencyMs,
		P95LatencyMs:  r.P95LatencyMs,
		P99LatencyMs:  r.P99LatencyMs,
		MaxLatencyMs:  r.MaxLatencyMs,
		ClusterMode:   r.ClusterMode,
		TLS:           r.TLS,
		IOThreads:     int32(optional(r.IOThreads)),
		Architecture:  r.Architecture,
	}
}

// ParquetSink writes each batch of measured records to its own parquet file.
// Failure markers have no columnar shape and are skipped.
type ParquetSink struct {
	Dir string
	now func() time.Time
}

func NewParquetSink(dir string) *ParquetSink {
	return &ParquetSink{Dir: dir, now: time.Now}
}

func (s *ParquetSink) Write(entries []Entry) error {
	var rows []parquetRow
	for _, e := range entries {
		if r, ok := e.(*Record); ok {
			rows = append(rows, toParquet(r))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("metrics-%s.parquet", now().Format("20060102-150405")))
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	pw, err := writer.NewParquetWriter(file, new(parquetRow), 2)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}
	return file.Close()
}
