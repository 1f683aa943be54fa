// Package cpuset parses taskset-style core lists and hands out disjoint core blocks
// to servers and benchmark clients.
package cpuset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/runningwild/vbench/pkg/sysinfo"
)

var ErrFormat = errors.New("invalid core range")

// Parse expands a spec like "0-3,8,10-11" into the listed core ids, in order.
func Parse(spec string) ([]int, error) {
	if spec == "" {
		return nil, fmt.Errorf("%w: core range must be a non-empty string", ErrFormat)
	}
	if strings.HasPrefix(spec, ",") || strings.HasSuffix(spec, ",") {
		return nil, fmt.Errorf("%w: core range cannot start or end with comma: %q", ErrFormat, spec)
	}
	if strings.Contains(spec, ",,") {
		return nil, fmt.Errorf("%w: core range cannot contain consecutive commas: %q", ErrFormat, spec)
	}

	var cores []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty element in %q", ErrFormat, spec)
		}
		// A leading '-' is a negative number, not a range.
		if strings.HasPrefix(part, "-") {
			return nil, fmt.Errorf("%w: core numbers must be non-negative, got %q", ErrFormat, part)
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := atoi(part, spec)
			if err != nil {
				return nil, err
			}
			cores = append(cores, n)
			continue
		}
		start, err := atoi(lo, spec)
		if err != nil {
			return nil, err
		}
		end, err := atoi(hi, spec)
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("%w: invalid core range values in %q", ErrFormat, part)
		}
		for c := start; c <= end; c++ {
			cores = append(cores, c)
		}
	}
	return cores, nil
}

func atoi(s, spec string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, spec)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: core numbers must be non-negative, got %d", ErrFormat, n)
	}
	return n, nil
}

// Format renders cores as the shortest range spec, e.g. [0 1 2 3 8] -> "0-3,8".
// Duplicates are dropped and the output is sorted.
func Format(cores []int) string {
	if len(cores) == 0 {
		return ""
	}
	sorted := append([]int(nil), cores...)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, c := range sorted[1:] {
		if c == prev {
			continue
		}
		if c == prev+1 {
			prev = c
			continue
		}
		flush()
		start, prev = c, c
	}
	flush()
	return strings.Join(parts, ",")
}

// ComputeRanges returns count contiguous blocks of perUnit cores starting at offset.
func ComputeRanges(count, perUnit, offset int) []string {
	ranges := make([]string, 0, count)
	for i := 0; i < count; i++ {
		start := offset + i*perUnit
		ranges = append(ranges, fmt.Sprintf("%d-%d", start, start+perUnit-1))
	}
	return ranges
}

// HostCores reports how many cores the host offers. ValidateDisjoint checks against it.
var HostCores = sysinfo.NumCPU

// ValidateDisjoint fails when the two specs share a core, or when together they
// ask for more cores than the host has.
func ValidateDisjoint(a, b string) error {
	return validateDisjoint(a, b, HostCores())
}

func validateDisjoint(a, b string, maxCores int) error {
	ca, err := Parse(a)
	if err != nil {
		return err
	}
	cb, err := Parse(b)
	if err != nil {
		return err
	}

	inA := make(map[int]bool, len(ca))
	union := make(map[int]bool, len(ca)+len(cb))
	for _, c := range ca {
		inA[c] = true
		union[c] = true
	}
	overlapSet := make(map[int]bool)
	for _, c := range cb {
		if inA[c] {
			overlapSet[c] = true
		}
		union[c] = true
	}
	if len(overlapSet) > 0 {
		overlap := make([]int, 0, len(overlapSet))
		for c := range overlapSet {
			overlap = append(overlap, c)
		}
		sort.Ints(overlap)
		return fmt.Errorf("core ranges %q and %q overlap on cores: %v", a, b, overlap)
	}
	if maxCores > 0 && len(union) > maxCores {
		return fmt.Errorf("total CPU allocation (%d cores) exceeds system cores (%d)", len(union), maxCores)
	}
	return nil
}
