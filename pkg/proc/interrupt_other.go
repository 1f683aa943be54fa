//go:build !unix

package proc

import "os"

func interrupt(p *os.Process) error {
	return p.Kill()
}
