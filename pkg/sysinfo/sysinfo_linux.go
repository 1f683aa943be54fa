//go:build linux

package sysinfo

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// NumCPU returns the number of logical cores this process may run on.
// Affinity is honored so a harness started under taskset sees its own slice of the host.
func NumCPU() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	if n := set.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Machine returns the kernel's machine name (x86_64, aarch64, ...).
func Machine() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return goarchMachine()
	}
	m := unix.ByteSliceToString(u.Machine[:])
	if m == "" {
		return goarchMachine()
	}
	return m
}
