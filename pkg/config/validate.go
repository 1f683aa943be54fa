package config

import (
	"fmt"

	"github.com/runningwild/vbench/pkg/cpuset"
)

var flatRequired = []string{
	"keyspacelen",
	"data_sizes",
	"pipelines",
	"clients",
	"commands",
	"cluster_mode",
	"tls_mode",
	"warmup",
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks a raw decoded config entry before it is bound to Config.
// Working on the raw tree keeps "missing" distinct from "zero" and catches floats in int fields.
func Validate(raw map[string]any) error {
	_, hasGroups := raw["test_groups"]
	_, hasCommands := raw["commands"]
	if hasGroups && hasCommands {
		return invalid("Cannot mix 'commands' and 'test_groups' in one config")
	}

	for _, key := range []string{"cluster_mode", "tls_mode"} {
		if v, ok := raw[key]; ok {
			if _, err := ParseBool(v); err != nil {
				return invalid("'%s': %v", key, err)
			}
		}
	}

	if hasGroups {
		if err := ValidateTestGroups(raw); err != nil {
			return err
		}
	} else {
		for _, k := range flatRequired {
			if _, ok := raw[k]; !ok {
				return invalid("Missing required config key: %s", k)
			}
		}
		if err := validateRequestsDuration(raw); err != nil {
			return err
		}
		for _, k := range []string{"keyspacelen", "data_sizes", "pipelines", "clients"} {
			if err := validatePositiveIntList(raw[k], k); err != nil {
				return err
			}
		}
		if err := validateCommands(raw["commands"]); err != nil {
			return err
		}
	}

	if v, ok := raw["requests"]; ok && hasGroups {
		if err := validatePositiveIntList(v, "requests"); err != nil {
			return err
		}
	}
	if v, ok := raw["duration"]; ok {
		if err := validatePositiveInt(v, "duration"); err != nil {
			return err
		}
	}
	if v, ok := raw["warmup"]; ok {
		if err := validateNonNegativeInt(v, "warmup"); err != nil {
			return err
		}
	}
	for _, k := range []string{"runs", "io_threads", "benchmark_threads", "cluster_nodes", "port"} {
		if v, ok := raw[k]; ok {
			if err := validatePositiveInt(v, k); err != nil {
				return err
			}
		}
	}
	if v, ok := raw["cluster_ports"]; ok {
		if err := validatePositiveIntList(v, "cluster_ports"); err != nil {
			return err
		}
	}
	return ValidateCPUAllocation(raw)
}

func validateRequestsDuration(raw map[string]any) error {
	_, hasReq := raw["requests"]
	_, hasDur := raw["duration"]
	if hasReq && hasDur {
		return invalid("Cannot specify both 'requests' and 'duration'")
	}
	if !hasReq && !hasDur {
		return invalid("Either 'requests' or 'duration' must be specified")
	}
	if hasReq {
		return validatePositiveIntList(raw["requests"], "requests")
	}
	return nil
}

func validateCommands(v any) error {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return invalid("'commands' must be a non-empty list")
	}
	for _, c := range list {
		if s, ok := c.(string); !ok || s == "" {
			return invalid("'commands' must contain only non-empty strings")
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

func validatePositiveIntList(v any, name string) error {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return invalid("'%s' must be list of positive integers", name)
	}
	for _, x := range list {
		n, ok := asInt(x)
		if !ok || n <= 0 {
			return invalid("'%s' must be list of positive integers", name)
		}
	}
	return nil
}

func validatePositiveInt(v any, name string) error {
	n, ok := asInt(v)
	if !ok {
		return invalid("'%s' must be an integer", name)
	}
	if n <= 0 {
		return invalid("'%s' must be positive", name)
	}
	return nil
}

func validateNonNegativeInt(v any, name string) error {
	n, ok := asInt(v)
	if !ok {
		return invalid("'%s' must be an integer", name)
	}
	if n < 0 {
		return invalid("'%s' must be non-negative", name)
	}
	return nil
}

// ValidateCPUAllocation checks the two mutually exclusive ways of pinning cores.
func ValidateCPUAllocation(raw map[string]any) error {
	serverRange, hasServer := raw["server_cpu_range"].(string)
	clientRange, hasClient := raw["client_cpu_range"].(string)

	allocRaw, hasAlloc := raw["cpu_allocation"]
	if hasAlloc {
		if hasServer || hasClient {
			return invalid("Cannot use both 'cpu_allocation' and explicit server/client cpu ranges")
		}
		alloc, ok := allocRaw.(map[string]any)
		if !ok {
			return invalid("'cpu_allocation' must be an object")
		}
		ps, okS := alloc["cores_per_server"]
		pc, okC := alloc["cores_per_client"]
		if !okS || !okC {
			return invalid("'cpu_allocation' requires both 'cores_per_server' and 'cores_per_client'")
		}
		if err := validatePositiveInt(ps, "cores_per_server"); err != nil {
			return err
		}
		if err := validatePositiveInt(pc, "cores_per_client"); err != nil {
			return err
		}
		for _, k := range []string{"servers", "clients"} {
			list, ok := alloc[k].([]any)
			if !ok {
				continue
			}
			for _, r := range list {
				s, _ := r.(string)
				if _, err := cpuset.Parse(s); err != nil {
					return invalid("cpu_allocation.%s: %v", k, err)
				}
			}
		}
		return nil
	}

	if hasServer {
		if _, err := cpuset.Parse(serverRange); err != nil {
			return invalid("server_cpu_range: %v", err)
		}
	}
	if hasClient {
		if _, err := cpuset.Parse(clientRange); err != nil {
			return invalid("client_cpu_range: %v", err)
		}
	}
	if hasServer && hasClient {
		if err := cpuset.ValidateDisjoint(serverRange, clientRange); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

// ValidateTestGroups checks the shape of test_groups when present.
func ValidateTestGroups(raw map[string]any) error {
	v, ok := raw["test_groups"]
	if !ok {
		return nil
	}
	groups, ok := v.([]any)
	if !ok || len(groups) == 0 {
		return invalid("'test_groups' must be a non-empty list")
	}
	for i, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			return invalid("test_groups[%d] must be a dict", i)
		}
		sv, ok := group["scenarios"]
		if !ok {
			return invalid("test_groups[%d] missing 'scenarios' field", i)
		}
		scenarios, ok := sv.([]any)
		if !ok || len(scenarios) == 0 {
			return invalid("test_groups[%d] scenarios must be a non-empty list", i)
		}
		for j, s := range scenarios {
			sc, ok := s.(map[string]any)
			if !ok {
				return invalid("test_groups[%d].scenarios[%d] must be a dict", i, j)
			}
			for _, k := range []string{"id", "command"} {
				if val, ok := sc[k]; !ok || val == nil || val == "" {
					return invalid("test_groups[%d].scenarios[%d] missing '%s'", i, j, k)
				}
			}
			if ce, ok := sc["cluster_execution"].(string); ok && ce != "single" && ce != "parallel" {
				return invalid("test_groups[%d].scenarios[%d]: cluster_execution must be 'single' or 'parallel'", i, j)
			}
		}
	}
	return nil
}
