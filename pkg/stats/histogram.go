// Package stats summarizes repeated benchmark records and compares two result sets.
package stats

import (
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Values are stored as fixed-point integers so that fractional rps and sub-millisecond
// latencies keep their precision. 1e11 scaled units covers 1e8 rps.
const (
	scale    = 1000
	maxValue = 100_000_000_000
)

// Series is a mergeable distribution of one metric across runs. Mean and spread are
// exact; quantiles come from the histogram and carry three significant digits.
type Series struct {
	hist     *hdrhistogram.Histogram
	n        int64
	sum      float64
	sumSq    float64
	min, max float64
}

func NewSeries() *Series {
	return &Series{
		hist: hdrhistogram.New(1, maxValue, 3),
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

// Record adds one observation. Negative and NaN values are ignored.
func (s *Series) Record(v float64) {
	if v < 0 || math.IsNaN(v) {
		return
	}
	if err := s.hist.RecordValue(int64(math.Round(v * scale))); err != nil {
		return
	}
	s.n++
	s.sum += v
	s.sumSq += v * v
	s.min = math.Min(s.min, v)
	s.max = math.Max(s.max, v)
}

func (s *Series) Merge(other *Series) {
	if other.n == 0 {
		return
	}
	s.hist.Merge(other.hist)
	s.n += other.n
	s.sum += other.sum
	s.sumSq += other.sumSq
	s.min = math.Min(s.min, other.min)
	s.max = math.Max(s.max, other.max)
}

func (s *Series) Count() int64 { return s.n }

func (s *Series) Mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

// StdDev is the sample standard deviation; it is 0 for fewer than two values.
func (s *Series) StdDev() float64 {
	if s.n < 2 {
		return 0
	}
	mean := s.Mean()
	v := (s.sumSq - float64(s.n)*mean*mean) / float64(s.n-1)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Quantile takes q in [0, 100].
func (s *Series) Quantile(q float64) float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.hist.ValueAtQuantile(q)) / scale
}

func (s *Series) Min() float64 {
	if s.n == 0 {
		return 0
	}
	return s.min
}

func (s *Series) Max() float64 {
	if s.n == 0 {
		return 0
	}
	return s.max
}
