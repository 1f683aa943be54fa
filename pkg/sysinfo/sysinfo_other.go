//go:build !linux

package sysinfo

import "runtime"

func NumCPU() int {
	return runtime.NumCPU()
}

func Machine() string {
	return goarchMachine()
}
