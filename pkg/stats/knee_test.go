package stats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/runningwild/vbench/pkg/metrics"
)

func TestFindKnee(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		wantX  float64
	}{
		{
			name:   "knee",
			points: []Point{{1, 10}, {2, 20}, {3, 28}, {4, 30}, {5, 31}},
			wantX:  3,
		},
		{
			name:   "unsorted",
			points: []Point{{5, 31}, {3, 28}, {1, 10}, {4, 30}, {2, 20}},
			wantX:  3,
		},
		{
			// Every point sits on the diagonal; the first one wins.
			name:   "linear",
			points: []Point{{1, 10}, {2, 20}, {3, 30}, {4, 40}},
			wantX:  1,
		},
		{
			name:   "plateau",
			points: []Point{{1, 100}, {2, 100}, {3, 100}},
			wantX:  3,
		},
		{
			name:   "step",
			points: []Point{{1, 0}, {2, 0}, {3, 100}, {4, 100}},
			wantX:  3,
		},
		{
			name:   "two points",
			points: []Point{{8, 1}, {4, 5}},
			wantX:  8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindKnee(tt.points); got.X != tt.wantX {
				t.Errorf("FindKnee() = %v, want X=%v", got, tt.wantX)
			}
		})
	}
	if (FindKnee(nil) != Point{}) {
		t.Error("Empty input should give the zero point")
	}
}

func TestSaturation(t *testing.T) {
	var recs []*metrics.Record
	for _, p := range []Point{{10, 100000}, {50, 200000}, {100, 280000}, {200, 300000}, {400, 310000}} {
		recs = append(recs, &metrics.Record{Command: "GET", DataSize: 64, Pipeline: 1, Clients: int(p.X), RPS: p.Y})
	}
	// Too few client counts to form a curve.
	recs = append(recs,
		&metrics.Record{Command: "SET", DataSize: 64, Pipeline: 1, Clients: 10, RPS: 1},
		&metrics.Record{Command: "SET", DataSize: 64, Pipeline: 1, Clients: 50, RPS: 2},
	)
	curves := Saturation(recs)
	if len(curves) != 1 {
		t.Fatalf("Expected one curve, got %d", len(curves))
	}
	c := curves[0]
	if c.Key.Command != "GET" || c.Key.Clients != 0 || len(c.Points) != 5 || c.Points[0].X != 10 {
		t.Errorf("Unexpected curve %+v", c)
	}
	if c.Knee.X != 100 {
		t.Errorf("Knee at %v clients, want 100", c.Knee.X)
	}

	var buf bytes.Buffer
	if err := WriteSaturation(&buf, curves); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "280000.00") || !strings.Contains(buf.String(), "310000.00") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}
