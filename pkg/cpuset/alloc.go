package cpuset

import "fmt"

// Allocation describes automatic per-node core assignment. Explicit Servers/Clients
// lists win over the computed blocks.
type Allocation struct {
	CoresPerServer int      `yaml:"cores_per_server"`
	CoresPerClient int      `yaml:"cores_per_client"`
	Servers        []string `yaml:"servers,omitempty"`
	Clients        []string `yaml:"clients,omitempty"`
}

// ServerRanges returns one core range per server node, starting at core 0.
func (a *Allocation) ServerRanges(nodes int) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	if len(a.Servers) > 0 {
		return validated(a.Servers)
	}
	return validated(ComputeRanges(nodes, a.CoresPerServer, 0))
}

// ClientRanges returns one core range per client, placed after every server block.
func (a *Allocation) ClientRanges(nodes int) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	if len(a.Clients) > 0 {
		return validated(a.Clients)
	}
	return validated(ComputeRanges(nodes, a.CoresPerClient, nodes*a.CoresPerServer))
}

func validated(ranges []string) ([]string, error) {
	for _, r := range ranges {
		if _, err := Parse(r); err != nil {
			return nil, fmt.Errorf("cpu allocation: %w", err)
		}
	}
	return ranges, nil
}
