package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Option is one entry of a scenario's option map: a flag appended to the command
// and the suffix appended to the scenario id.
type Option struct {
	Flag   string
	Suffix string
}

// Options keeps the file order of the option map, which is the variant order.
type Options []Option

func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		*o = nil
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: options must be a mapping of flag to id suffix", n.Line)
	}
	opts := make(Options, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var suffix string
		if err := n.Content[i+1].Decode(&suffix); err != nil {
			return err
		}
		opts = append(opts, Option{Flag: n.Content[i].Value, Suffix: suffix})
	}
	*o = opts
	return nil
}

func (o Options) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, opt := range o {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: opt.Flag},
			&yaml.Node{Kind: yaml.ScalarNode, Value: opt.Suffix},
		)
	}
	return n, nil
}
