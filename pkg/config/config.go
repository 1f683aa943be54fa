package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/runningwild/vbench/pkg/cpuset"
)

const DefaultPort = 6379

var ErrValidation = errors.New("invalid config")

// Shape tells which of the two mutually exclusive config layouts is active.
type Shape int

const (
	Flat Shape = iota
	Grouped
)

func (s Shape) String() string {
	if s == Grouped {
		return "grouped"
	}
	return "flat"
}

// Config is one entry of a benchmark config file. A file holds a list of these.
type Config struct {
	// Flat sweep. Every list is cross-producted.
	Requests    []int    `yaml:"requests,omitempty"`
	Duration    int      `yaml:"duration,omitempty"` // seconds; mutually exclusive with Requests
	Keyspacelen []int    `yaml:"keyspacelen,omitempty"`
	DataSizes   []int    `yaml:"data_sizes,omitempty"`
	Pipelines   []int    `yaml:"pipelines,omitempty"`
	Clients     []int    `yaml:"clients,omitempty"`
	Commands    []string `yaml:"commands,omitempty"`
	Warmup      int      `yaml:"warmup"`
	Runs        int      `yaml:"runs,omitempty"`

	ClusterMode      Flag  `yaml:"cluster_mode"`
	TLSMode          Flag  `yaml:"tls_mode"`
	IOThreads        *int  `yaml:"io_threads,omitempty"`
	BenchmarkThreads *int  `yaml:"benchmark_threads,omitempty"`
	Sequential       bool  `yaml:"sequential,omitempty"`
	Seed             *bool `yaml:"seed,omitempty"` // false disables --seed everywhere

	Port         int   `yaml:"port,omitempty"`
	ClusterNodes int   `yaml:"cluster_nodes,omitempty"`
	ClusterPorts []int `yaml:"cluster_ports,omitempty"`

	ServerCPURange string             `yaml:"server_cpu_range,omitempty"`
	ClientCPURange string             `yaml:"client_cpu_range,omitempty"`
	CPUAllocation  *cpuset.Allocation `yaml:"cpu_allocation,omitempty"`

	TestGroups     []Group          `yaml:"test_groups,omitempty"`
	ConfigSets     []map[string]any `yaml:"config_sets,omitempty"`
	RequiresModule bool             `yaml:"requires_module,omitempty"`
}

// Group is an ordered phase of scenarios.
type Group struct {
	Group     string     `yaml:"group"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario is one named benchmark in a grouped config.
type Scenario struct {
	ID          string `yaml:"id"`
	Command     string `yaml:"command"`
	Type        string `yaml:"type,omitempty"`
	Description string `yaml:"description,omitempty"`

	Dataset     string `yaml:"dataset,omitempty"`
	RootElement string `yaml:"xml_root_element,omitempty"`
	MaxDocs     int    `yaml:"maxdocs,omitempty"`

	Requests    int   `yaml:"requests,omitempty"`
	Duration    int   `yaml:"duration,omitempty"`
	Warmup      *int  `yaml:"warmup,omitempty"`
	Clients     int   `yaml:"clients,omitempty"`
	Pipeline    int   `yaml:"pipeline,omitempty"`
	Keyspacelen int   `yaml:"keyspacelen,omitempty"`
	Sequential  bool  `yaml:"sequential,omitempty"`
	Seed        *bool `yaml:"seed,omitempty"`

	ClusterExecution string `yaml:"cluster_execution,omitempty"` // "single" or "parallel"
	ParallelClients  int    `yaml:"parallel_clients,omitempty"`

	Profiling     map[string]any `yaml:"profiling,omitempty"`
	Options       Options        `yaml:"options,omitempty"`
	SetupCommands []string       `yaml:"setup_commands,omitempty"`
	Flush         bool           `yaml:"flush,omitempty"`
}

// Parallel reports whether the scenario asks for one client per cluster node.
func (s *Scenario) Parallel() bool {
	return s.ClusterExecution == "parallel"
}

// SeedEnabled is false when either the scenario or the config turns seeding off.
func (c *Config) SeedEnabled(s *Scenario) bool {
	if c.Seed != nil && !*c.Seed {
		return false
	}
	if s != nil && s.Seed != nil && !*s.Seed {
		return false
	}
	return true
}

func (c *Config) Shape() Shape {
	if len(c.TestGroups) > 0 {
		return Grouped
	}
	return Flat
}

// Load reads a JSON or YAML config file. A single mapping is treated as a one-entry list.
func Load(path string) ([]*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) ([]*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty config", ErrValidation)
	}
	root := doc.Content[0]

	var entries []*yaml.Node
	switch root.Kind {
	case yaml.SequenceNode:
		entries = root.Content
	case yaml.MappingNode:
		entries = []*yaml.Node{root}
	default:
		return nil, fmt.Errorf("%w: config must be a list of objects", ErrValidation)
	}

	cfgs := make([]*Config, 0, len(entries))
	for i, n := range entries {
		var raw map[string]any
		if err := n.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrValidation, i, err)
		}
		if err := Validate(raw); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		var cfg Config
		if err := n.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrValidation, i, err)
		}
		cfg.setDefaults()
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Runs <= 0 {
		c.Runs = 1
	}
	if len(c.ConfigSets) == 0 {
		c.ConfigSets = []map[string]any{{}}
	}
	for gi := range c.TestGroups {
		for si := range c.TestGroups[gi].Scenarios {
			s := &c.TestGroups[gi].Scenarios[si]
			if s.ClusterExecution == "" {
				s.ClusterExecution = "single"
			}
		}
	}
}

// ProfilingEnabled reports whether the first config set turns profiling on.
// The first set decides, for the whole run, whether a profiler or a metrics sink is built.
func (c *Config) ProfilingEnabled() bool {
	if len(c.ConfigSets) == 0 {
		return false
	}
	return ProfilingOn(c.ConfigSets[0])
}

// ProfilingOn reads profiling.enabled out of a (possibly merged) settings map.
func ProfilingOn(settings map[string]any) bool {
	p, ok := settings["profiling"].(map[string]any)
	if !ok {
		return false
	}
	on, err := ParseBool(p["enabled"])
	return err == nil && on
}

// SetName returns the config set's name, used as a suffix in profiling session ids.
func SetName(set map[string]any) string {
	if name, ok := set["name"].(string); ok {
		return name
	}
	return ""
}

// IntSetting reads an integer setting, tolerating YAML/JSON number types.
func IntSetting(settings map[string]any, key string) (int, bool) {
	switch v := settings[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// first returns the first element of a sweep list, which grouped scenarios use as a default.
func first(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func (c *Config) DefaultClients() int     { return first(c.Clients) }
func (c *Config) DefaultPipeline() int    { return first(c.Pipelines) }
func (c *Config) DefaultKeyspacelen() int { return first(c.Keyspacelen) }

// Flag is a boolean that also accepts "yes"/"no" style strings.
type Flag bool

func (f *Flag) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	b, err := ParseBool(v)
	if err != nil {
		return err
	}
	*f = Flag(b)
	return nil
}

func (f Flag) MarshalYAML() (any, error) {
	if f {
		return "yes", nil
	}
	return "no", nil
}

// ParseBool accepts booleans and yes/true/1, no/false/0 in any case.
func ParseBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "true", "1":
			return true, nil
		case "no", "false", "0":
			return false, nil
		}
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot interpret %v as a boolean", v)
}
