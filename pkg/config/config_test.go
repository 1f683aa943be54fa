package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/runningwild/vbench/pkg/cpuset"
)

const flatJSON = `[
  {
    "requests": [1000],
    "keyspacelen": [1000],
    "data_sizes": [64],
    "pipelines": [1],
    "clients": [50],
    "commands": ["GET", "SET"],
    "cluster_mode": "no",
    "tls_mode": false,
    "warmup": 0
  }
]`

const groupedYAML = `
cluster_mode: yes
tls_mode: no
cluster_ports: [7000, 7001, 7002]
duration: 30
clients: [16]
test_groups:
  - group: 1
    scenarios:
      - id: search
        command: FT.SEARCH idx "*"
        type: read
        cluster_execution: parallel
        options:
          "": _base
          "NOCONTENT": _nocontent
          "LIMIT 0 10": _limit
`

func TestParseFlat(t *testing.T) {
	cfgs, err := Parse([]byte(flatJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cfgs) != 1 {
		t.Fatalf("Expected 1 config, got %d", len(cfgs))
	}
	c := cfgs[0]
	if c.Shape() != Flat {
		t.Errorf("Expected flat shape, got %v", c.Shape())
	}
	if c.Port != DefaultPort || c.Runs != 1 {
		t.Errorf("Defaults not applied: port=%d runs=%d", c.Port, c.Runs)
	}
	if bool(c.ClusterMode) || bool(c.TLSMode) {
		t.Errorf("Expected cluster/tls off, got %v/%v", c.ClusterMode, c.TLSMode)
	}
	if len(c.ConfigSets) != 1 {
		t.Errorf("Expected one implicit config set, got %d", len(c.ConfigSets))
	}
	if !reflect.DeepEqual(c.Commands, []string{"GET", "SET"}) {
		t.Errorf("Commands = %v", c.Commands)
	}
}

func TestParseGroupedKeepsOptionOrder(t *testing.T) {
	cfgs, err := Parse([]byte(groupedYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := cfgs[0]
	if c.Shape() != Grouped {
		t.Fatalf("Expected grouped shape")
	}
	if !bool(c.ClusterMode) {
		t.Error("Expected cluster mode on")
	}
	g := c.TestGroups[0]
	if g.Group != "1" {
		t.Errorf("Group id = %q, want 1", g.Group)
	}
	sc := g.Scenarios[0]
	want := Options{{"", "_base"}, {"NOCONTENT", "_nocontent"}, {"LIMIT 0 10", "_limit"}}
	if !reflect.DeepEqual(sc.Options, want) {
		t.Errorf("Options = %v, want %v", sc.Options, want)
	}
	if !sc.Parallel() {
		t.Error("Expected parallel scenario")
	}
	if c.DefaultClients() != 16 {
		t.Errorf("DefaultClients = %d", c.DefaultClients())
	}
}

func TestScenarioDefaultsToSingle(t *testing.T) {
	cfgs, err := Parse([]byte(`{"test_groups": [{"group": 1, "scenarios": [{"id": "s1", "command": "SET foo bar", "type": "write"}]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfgs[0].TestGroups[0].Scenarios[0].ClusterExecution; got != "single" {
		t.Errorf("ClusterExecution = %q, want single", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(flatJSON), 0644); err != nil {
		t.Fatal(err)
	}
	cfgs, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfgs) != 1 {
		t.Errorf("Expected 1 config, got %d", len(cfgs))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func baseFlat() map[string]any {
	return map[string]any{
		"requests":     []any{1000},
		"keyspacelen":  []any{1000},
		"data_sizes":   []any{64},
		"pipelines":    []any{1},
		"clients":      []any{50},
		"commands":     []any{"GET", "SET"},
		"cluster_mode": false,
		"tls_mode":     false,
		"warmup":       0,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		want   string // substring of the error; empty means valid
	}{
		{"valid", func(m map[string]any) {}, ""},
		{"missing key", func(m map[string]any) { delete(m, "pipelines") }, "Missing required config key: pipelines"},
		{"both requests and duration", func(m map[string]any) { m["duration"] = 30 }, "Cannot specify both"},
		{"neither requests nor duration", func(m map[string]any) { delete(m, "requests") }, "Either 'requests' or 'duration'"},
		{"duration only", func(m map[string]any) { delete(m, "requests"); m["duration"] = 30 }, ""},
		{"zero in list", func(m map[string]any) { m["clients"] = []any{1, 0, 3} }, "must be list of positive integers"},
		{"negative in list", func(m map[string]any) { m["data_sizes"] = []any{1, -1} }, "must be list of positive integers"},
		{"float in list", func(m map[string]any) { m["pipelines"] = []any{1, 2.5} }, "must be list of positive integers"},
		{"negative warmup", func(m map[string]any) { m["warmup"] = -1 }, "must be non-negative"},
		{"float warmup", func(m map[string]any) { m["warmup"] = 1.5 }, "must be an integer"},
		{"zero runs", func(m map[string]any) { m["runs"] = 0 }, "must be positive"},
		{"bad bool", func(m map[string]any) { m["tls_mode"] = "maybe" }, "tls_mode"},
		{"empty commands", func(m map[string]any) { m["commands"] = []any{} }, "non-empty list"},
		{"mixed shapes", func(m map[string]any) {
			m["test_groups"] = []any{map[string]any{"scenarios": []any{map[string]any{"id": "a", "command": "GET k"}}}}
		}, "Cannot mix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := baseFlat()
			tt.mutate(m)
			err := Validate(m)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Error %q does not contain %q", err, tt.want)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Error %v does not wrap ErrValidation", err)
			}
		})
	}
}

func TestValidateCPUAllocation(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want string
	}{
		{"no cpu fields", map[string]any{}, ""},
		{"exclusive with server range", map[string]any{
			"cpu_allocation":   map[string]any{"cores_per_server": 2, "cores_per_client": 2},
			"server_cpu_range": "0-3",
		}, "Cannot use both"},
		{"exclusive with client range", map[string]any{
			"cpu_allocation":   map[string]any{"cores_per_server": 2, "cores_per_client": 2},
			"client_cpu_range": "4-7",
		}, "Cannot use both"},
		{"missing cores_per_client", map[string]any{"cpu_allocation": map[string]any{"cores_per_server": 4}}, "requires both"},
		{"missing cores_per_server", map[string]any{"cpu_allocation": map[string]any{"cores_per_client": 4}}, "requires both"},
		{"zero cores", map[string]any{"cpu_allocation": map[string]any{"cores_per_server": 0, "cores_per_client": 2}}, "must be positive"},
		{"negative cores", map[string]any{"cpu_allocation": map[string]any{"cores_per_server": 2, "cores_per_client": -1}}, "must be positive"},
		{"valid allocation", map[string]any{"cpu_allocation": map[string]any{"cores_per_server": 4, "cores_per_client": 4}}, ""},
		{"explicit ranges", map[string]any{"server_cpu_range": "0", "client_cpu_range": "1"}, ""},
		{"only server range", map[string]any{"server_cpu_range": "0-3"}, ""},
		{"overlapping ranges", map[string]any{"server_cpu_range": "0-1", "client_cpu_range": "1-2"}, "overlap"},
		{"bad server range", map[string]any{"server_cpu_range": "3-1"}, "server_cpu_range"},
		{"ranges exceed host", map[string]any{"server_cpu_range": "0-31", "client_cpu_range": "32-95"}, "exceeds system cores (64)"},
	}
	orig := cpuset.HostCores
	defer func() { cpuset.HostCores = orig }()
	cpuset.HostCores = func() int { return 64 }

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCPUAllocation(tt.cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateTestGroups(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want string
	}{
		{"no key", map[string]any{}, ""},
		{"not a list", map[string]any{"test_groups": "not a list"}, "must be a non-empty list"},
		{"empty list", map[string]any{"test_groups": []any{}}, "must be a non-empty list"},
		{"element not dict", map[string]any{"test_groups": []any{"x"}}, "must be a dict"},
		{"missing scenarios", map[string]any{"test_groups": []any{map[string]any{"group": 1}}}, "missing 'scenarios' field"},
		{"empty scenarios", map[string]any{"test_groups": []any{map[string]any{"scenarios": []any{}}}}, "scenarios must be a non-empty list"},
		{"scenarios not list", map[string]any{"test_groups": []any{map[string]any{"scenarios": "bad"}}}, "scenarios must be a non-empty list"},
		{"scenario without command", map[string]any{"test_groups": []any{map[string]any{"scenarios": []any{map[string]any{"id": "s1"}}}}}, "missing 'command'"},
		{"bad execution", map[string]any{"test_groups": []any{map[string]any{"scenarios": []any{
			map[string]any{"id": "s1", "command": "GET k", "cluster_execution": "all"}}}}}, "cluster_execution"},
		{"valid", map[string]any{"test_groups": []any{map[string]any{"scenarios": []any{
			map[string]any{"id": "s1", "command": "GET key"}}}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTestGroups(tt.cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []any{"yes", "YES", "True", "1", true, 1} {
		if b, err := ParseBool(v); err != nil || !b {
			t.Errorf("ParseBool(%v) = %v, %v; want true", v, b, err)
		}
	}
	for _, v := range []any{"no", "No", "FALSE", "0", false, 0, nil} {
		if b, err := ParseBool(v); err != nil || b {
			t.Errorf("ParseBool(%v) = %v, %v; want false", v, b, err)
		}
	}
	for _, v := range []any{"maybe", 2, 1.5} {
		if _, err := ParseBool(v); err == nil {
			t.Errorf("ParseBool(%v) expected error", v)
		}
	}
}

func TestActivePorts(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []int
	}{
		{"cluster ports", Config{ClusterMode: true, ClusterPorts: []int{7000, 7001, 7002}}, []int{7000, 7001, 7002}},
		{"standalone port", Config{Port: 6380}, []int{6380}},
		{"standalone default", Config{}, []int{6379}},
		{"cluster without ports", Config{ClusterMode: true, Port: 6380}, []int{6380}},
		{"cluster nodes", Config{ClusterMode: true, Port: 7000, ClusterNodes: 3}, []int{7000, 7001, 7002}},
		{"ports ignored when standalone", Config{ClusterPorts: []int{7000, 7001}}, []int{6379}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ActivePorts(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ActivePorts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopology(t *testing.T) {
	c := Config{
		ClusterMode:   true,
		ClusterPorts:  []int{7000, 7001},
		CPUAllocation: &cpuset.Allocation{CoresPerServer: 2, CoresPerClient: 2},
	}
	topo, err := c.Topology("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if !topo.Multi() {
		t.Error("Expected multi-node topology")
	}
	want := Topology{{Host: "10.0.0.1", Port: 7000, Cores: "4-5"}, {Host: "10.0.0.1", Port: 7001, Cores: "6-7"}}
	if !reflect.DeepEqual(topo, want) {
		t.Errorf("Topology = %+v, want %+v", topo, want)
	}
	if !reflect.DeepEqual(topo.Ports(), []int{7000, 7001}) {
		t.Errorf("Ports = %v", topo.Ports())
	}

	single, err := (&Config{}).Topology("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if single.Multi() {
		t.Error("Expected single-node topology")
	}
}

func TestProfilingEnabled(t *testing.T) {
	c := &Config{ConfigSets: []map[string]any{
		{"profiling": map[string]any{"enabled": "yes"}},
		{"profiling": map[string]any{"enabled": false}},
	}}
	if !c.ProfilingEnabled() {
		t.Error("Expected first set to enable profiling")
	}
	c.ConfigSets = c.ConfigSets[1:]
	if c.ProfilingEnabled() {
		t.Error("Expected profiling off")
	}
}

func TestSeedEnabled(t *testing.T) {
	off := false
	c := &Config{}
	if !c.SeedEnabled(nil) {
		t.Error("Expected seeding on by default")
	}
	if c.SeedEnabled(&Scenario{Seed: &off}) {
		t.Error("Scenario should disable seeding")
	}
	c.Seed = &off
	if c.SeedEnabled(&Scenario{}) {
		t.Error("Config should disable seeding")
	}
}
