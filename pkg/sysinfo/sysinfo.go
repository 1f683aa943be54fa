// Package sysinfo reports host facts the harness records next to its results.
package sysinfo

import "runtime"

func goarchMachine() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// IsARM reports whether machine names a 64-bit ARM host.
func IsARM(machine string) bool {
	return machine == "aarch64" || machine == "arm64"
}
