package config

// Node is one addressable server instance.
type Node struct {
	Host  string
	Port  int
	Cores string // client core range dedicated to this node, if any
}

// Topology is the ordered set of nodes a run targets. One node is the standalone case.
type Topology []Node

// Multi reports whether the topology is a genuine multi-node cluster.
func (t Topology) Multi() bool {
	return len(t) > 1
}

// Ports returns every node's port, in order.
func (t Topology) Ports() []int {
	ports := make([]int, len(t))
	for i, n := range t {
		ports[i] = n.Port
	}
	return ports
}

// ActivePorts returns the server ports a run talks to. Cluster mode uses cluster_ports,
// or cluster_nodes consecutive ports from port; anything else is the single port.
func (c *Config) ActivePorts() []int {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	if !c.ClusterMode {
		return []int{port}
	}
	if len(c.ClusterPorts) > 0 {
		return append([]int(nil), c.ClusterPorts...)
	}
	if c.ClusterNodes > 1 {
		ports := make([]int, c.ClusterNodes)
		for i := range ports {
			ports[i] = port + i
		}
		return ports
	}
	return []int{port}
}

// Topology builds the node list for host, handing each node its client core range.
func (c *Config) Topology(host string) (Topology, error) {
	ports := c.ActivePorts()
	ranges, err := c.ClientRanges()
	if err != nil {
		return nil, err
	}
	topo := make(Topology, len(ports))
	for i, p := range ports {
		topo[i] = Node{Host: host, Port: p}
		if i < len(ranges) {
			topo[i].Cores = ranges[i]
		}
	}
	return topo, nil
}

// ClientRanges returns per-client core ranges. An explicit client_cpu_range is
// shared by every client.
func (c *Config) ClientRanges() ([]string, error) {
	if c.CPUAllocation != nil {
		return c.CPUAllocation.ClientRanges(len(c.ActivePorts()))
	}
	if c.ClientCPURange != "" {
		return []string{c.ClientCPURange}, nil
	}
	return nil, nil
}

// ServerRanges returns per-server core ranges, or nil when servers are not pinned.
func (c *Config) ServerRanges() ([]string, error) {
	if c.CPUAllocation != nil {
		return c.CPUAllocation.ServerRanges(len(c.ActivePorts()))
	}
	if c.ServerCPURange != "" {
		return []string{c.ServerCPURange}, nil
	}
	return nil, nil
}

// DefaultClientCores is the core range a single (non-parallel) client is pinned to.
func (c *Config) DefaultClientCores() string {
	ranges, err := c.ClientRanges()
	if err != nil || len(ranges) == 0 {
		return ""
	}
	return ranges[0]
}
