//go:build unix

package proc

import (
	"os"

	"golang.org/x/sys/unix"
)

func interrupt(p *os.Process) error {
	return unix.Kill(p.Pid, unix.SIGINT)
}
