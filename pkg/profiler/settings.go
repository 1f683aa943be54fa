package profiler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/runningwild/vbench/pkg/config"
)

const (
	ModeCPU      = "cpu"
	ModeWallTime = "wall-time"

	DefaultFreq = 999
)

// Window is when, relative to the start of a session, perf records and for how long.
type Window struct {
	Delay    time.Duration
	Duration time.Duration
}

var defaultWindow = Window{Delay: 0, Duration: 10 * time.Second}

// Settings is the "profiling" block of a (merged) config set.
type Settings struct {
	Enabled bool
	Mode    string
	Freq    int
	Sudo    bool
	Windows map[string]Window // keyed by phase: "write" or "read"
}

// ParseSettings reads settings["profiling"]. Unknown modes fall back to cpu with a warning.
func ParseSettings(settings map[string]any, log *slog.Logger) Settings {
	s := Settings{Mode: ModeCPU, Freq: DefaultFreq, Sudo: true, Windows: map[string]Window{}}
	p, ok := settings["profiling"].(map[string]any)
	if !ok {
		return s
	}
	s.Enabled = config.ProfilingOn(settings)
	if m, ok := p["mode"].(string); ok {
		switch m {
		case ModeCPU, ModeWallTime:
			s.Mode = m
		default:
			if log != nil {
				log.Warn("Invalid profiling mode, defaulting to cpu", "mode", m, "valid", []string{ModeCPU, ModeWallTime})
			}
		}
	}
	if f, ok := config.IntSetting(p, "sampling_freq"); ok && f > 0 {
		s.Freq = f
	}
	if v, ok := p["sudo"]; ok {
		if b, err := config.ParseBool(v); err == nil {
			s.Sudo = b
		}
	}
	if delays, ok := p["delays"].(map[string]any); ok {
		for phase, raw := range delays {
			d, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			w := defaultWindow
			if v, ok := config.IntSetting(d, "delay"); ok {
				w.Delay = time.Duration(v) * time.Second
			}
			if v, ok := config.IntSetting(d, "duration"); ok {
				w.Duration = time.Duration(v) * time.Second
			}
			s.Windows[phase] = w
		}
	}
	return s
}

// Window picks the recording window for a session. The phase is found by looking
// for "write" or "read" in the session id.
func (s Settings) Window(id string) Window {
	lower := strings.ToLower(id)
	var phase string
	switch {
	case strings.Contains(lower, "write"):
		phase = "write"
	case strings.Contains(lower, "read"):
		phase = "read"
	}
	if w, ok := s.Windows[phase]; ok && phase != "" {
		return w
	}
	return defaultWindow
}

// Events returns the perf event flags for the mode.
func (s Settings) Events() []string {
	if s.Mode == ModeWallTime {
		return []string{"-e", "cpu-clock,sched:sched_switch"}
	}
	return []string{"-e", "cycles"}
}
