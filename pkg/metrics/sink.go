package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the JSON results file inside a commit's results directory.
const FileName = "metrics.json"

// Sink persists a run's entries in one batch.
type Sink interface {
	Write(entries []Entry) error
}

// JSONSink appends entries to a JSON array on disk. A missing, unreadable or
// non-array file is treated as empty.
type JSONSink struct {
	Dir string

	mu sync.Mutex
}

func NewJSONSink(dir string) *JSONSink {
	return &JSONSink{Dir: dir}
}

func (s *JSONSink) Path() string {
	return filepath.Join(s.Dir, FileName)
}

func (s *JSONSink) Write(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}

	// Existing items are kept as raw JSON so fields this version does not know survive.
	var items []json.RawMessage
	if data, err := os.ReadFile(s.Path()); err == nil {
		if json.Unmarshal(data, &items) != nil {
			items = nil
		}
	}
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}
		items = append(items, b)
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(), data, 0644)
}

// ReadFile loads the records of a metrics.json file. Failure markers are skipped.
func ReadFile(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var out []*Record
	for i, item := range raw {
		if item["status"] == "failed" {
			continue
		}
		b, _ := json.Marshal(item)
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(entries []Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
