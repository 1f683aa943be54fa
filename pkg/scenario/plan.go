package scenario

import (
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/config"
)

// Kind tags which half of Unit is populated.
type Kind int

const (
	KindFlat Kind = iota
	KindScenario
)

// Unit is one fully resolved load generator invocation.
type Unit struct {
	Kind Kind
	Seed int
	Run  int // repetition index within a flat combination

	// KindFlat
	Flat     command.FlatParams
	Populate string // write-equivalent used to fill the keyspace first, or ""

	// KindScenario
	Group    string
	Scenario *config.Scenario
}

// Test commands the load generator understands.
var supported = map[string]bool{
	"PING_INLINE": true, "PING_MBULK": true,
	"SET": true, "GET": true, "INCR": true, "MSET": true, "XADD": true,
	"LPUSH": true, "RPUSH": true, "LPOP": true, "RPOP": true,
	"SADD": true, "SPOP": true, "HSET": true,
	"ZADD": true, "ZPOPMIN": true,
	"LRANGE_100": true, "LRANGE_300": true, "LRANGE_500": true, "LRANGE_600": true,
}

// Commands that touch several keys in one call. Keys land in different slots on a cluster.
var multiKey = map[string]bool{"MSET": true}

// Reads that need data in place, mapped to the write that produces it.
var writeEquivalent = map[string]string{
	"GET":        "SET",
	"LPOP":       "LPUSH",
	"RPOP":       "RPUSH",
	"SPOP":       "SADD",
	"ZPOPMIN":    "ZADD",
	"LRANGE_100": "LPUSH",
	"LRANGE_300": "LPUSH",
	"LRANGE_500": "LPUSH",
	"LRANGE_600": "LPUSH",
}

// Supported reports whether the load generator has a test for cmd.
func Supported(cmd string) bool { return supported[strings.ToUpper(cmd)] }

// WriteEquivalent returns the command that populates the keys cmd reads.
func WriteEquivalent(cmd string) (string, bool) {
	w, ok := writeEquivalent[strings.ToUpper(cmd)]
	return w, ok
}

// Filter restricts grouped runs to named groups and scenario ids. Empty sets match everything.
type Filter struct {
	Groups    map[string]bool
	Scenarios map[string]bool
}

func NewFilter(groups, scenarios []string) Filter {
	return Filter{Groups: set(groups), Scenarios: set(scenarios)}
}

func set(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[strings.TrimSpace(v)] = true
	}
	return m
}

func (f Filter) group(g string) bool     { return len(f.Groups) == 0 || f.Groups[g] }
func (f Filter) scenario(id string) bool { return len(f.Scenarios) == 0 || f.Scenarios[id] }

// Planner expands one config entry into units.
type Planner struct {
	Cfg     *config.Config
	Cluster bool // the topology has more than one node
	Filter  Filter
	Log     *slog.Logger
	Seed    func() int // nil uses a random value in [0, 1000000]
}

func (p *Planner) seed() int {
	if p.Seed != nil {
		return p.Seed()
	}
	return rand.IntN(1000001)
}

func (p *Planner) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Units returns every unit in execution order.
func (p *Planner) Units() []Unit {
	if p.Cfg.Shape() == config.Grouped {
		return p.grouped()
	}
	return p.flat()
}

func (p *Planner) flat() []Unit {
	c := p.Cfg
	requests := c.Requests
	if c.Duration > 0 || len(requests) == 0 {
		requests = []int{0}
	}

	var units []Unit
	skipped := map[string]bool{}
	for _, req := range requests {
		for _, ks := range c.Keyspacelen {
			for _, ds := range c.DataSizes {
				for _, pl := range c.Pipelines {
					for _, cl := range c.Clients {
						for _, cmd := range c.Commands {
							name := strings.ToUpper(cmd)
							if !Supported(name) {
								if !skipped[name] {
									p.log().Warn("Skipping unsupported command", "command", cmd)
									skipped[name] = true
								}
								continue
							}
							if p.Cluster && multiKey[name] {
								if !skipped[name] {
									p.log().Warn("Skipping multi-key command in cluster mode", "command", cmd)
									skipped[name] = true
								}
								continue
							}
							populate, _ := WriteEquivalent(name)
							for run := 0; run < c.Runs; run++ {
								seed := p.seed()
								units = append(units, Unit{
									Kind: KindFlat,
									Seed: seed,
									Run:  run,
									Flat: command.FlatParams{
										Requests:    req,
										Duration:    c.Duration,
										Keyspacelen: ks,
										DataSize:    ds,
										Pipeline:    pl,
										Clients:     cl,
										Command:     name,
										Warmup:      c.Warmup,
										Seed:        seed,
										Sequential:  c.Sequential,
									},
									Populate: populate,
								})
							}
						}
					}
				}
			}
		}
	}
	return units
}

func (p *Planner) grouped() []Unit {
	var units []Unit
	for gi := range p.Cfg.TestGroups {
		g := &p.Cfg.TestGroups[gi]
		if !p.Filter.group(g.Group) {
			p.log().Debug("Skipping group", "group", g.Group)
			continue
		}
		for si := range g.Scenarios {
			for _, v := range Expand(&g.Scenarios[si]) {
				if !p.Filter.scenario(v.ID) {
					continue
				}
				units = append(units, Unit{
					Kind:     KindScenario,
					Seed:     p.seed(),
					Group:    g.Group,
					Scenario: v,
				})
			}
		}
	}
	return units
}
