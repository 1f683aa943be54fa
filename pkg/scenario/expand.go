// Package scenario turns a config into the ordered list of units a run executes.
package scenario

import (
	"slices"

	"github.com/runningwild/vbench/pkg/config"
)

// Clone returns a deep copy of a scenario descriptor.
func Clone(s *config.Scenario) *config.Scenario {
	c := *s
	if s.Warmup != nil {
		w := *s.Warmup
		c.Warmup = &w
	}
	if s.Seed != nil {
		b := *s.Seed
		c.Seed = &b
	}
	if s.Profiling != nil {
		c.Profiling = DeepMerge(nil, s.Profiling)
	}
	c.Options = slices.Clone(s.Options)
	c.SetupCommands = slices.Clone(s.SetupCommands)
	return &c
}

// Expand fans a scenario out over its options. Each option produces a copy whose id
// gets the option's suffix and whose command gets the flag. Without options the
// scenario itself is returned. The input is never modified.
func Expand(s *config.Scenario) []*config.Scenario {
	if len(s.Options) == 0 {
		return []*config.Scenario{s}
	}
	out := make([]*config.Scenario, 0, len(s.Options))
	for _, opt := range s.Options {
		v := Clone(s)
		v.Options = nil
		v.ID = s.ID + opt.Suffix
		if opt.Flag != "" {
			v.Command = s.Command + " " + opt.Flag
			if s.Description != "" {
				v.Description = s.Description + " + " + opt.Flag
			}
		}
		out = append(out, v)
	}
	return out
}

// DeepMerge overlays override onto base and returns a new map. Nested maps merge
// recursively; any other override value replaces the base value. Neither input is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = copyValue(v)
	}
	for k, v := range override {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepMerge(nil, t)
	case []any:
		c := make([]any, len(t))
		for i, x := range t {
			c[i] = copyValue(x)
		}
		return c
	}
	return v
}

// Overrides collects the scenario keys that layer over a config set.
func Overrides(s *config.Scenario) map[string]any {
	o := map[string]any{}
	if s.Warmup != nil {
		o["warmup"] = *s.Warmup
	}
	if s.Profiling != nil {
		o["profiling"] = s.Profiling
	}
	return o
}

// Settings is the effective per-scenario settings: the config set with the scenario's
// overrides merged on top.
func Settings(set map[string]any, s *config.Scenario) map[string]any {
	return DeepMerge(set, Overrides(s))
}
