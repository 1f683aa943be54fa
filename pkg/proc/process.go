package proc

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"sync"
)

// Process is a started command that runs until interrupted or finished.
type Process interface {
	Pid() int
	Interrupt() error
	Wait() error
}

// Spawner starts commands without waiting for them.
type Spawner interface {
	Start(argv []string) (Process, error)
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer

	once sync.Once
	err  error
}

func (r ExecRunner) Start(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	p := &execProcess{cmd: exec.Command(argv[0], argv[1:]...)}
	p.cmd.Dir = r.Dir
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		return nil, &ExitError{Argv: argv, Err: err}
	}
	return p, nil
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Interrupt() error { return interrupt(p.cmd.Process) }

func (p *execProcess) Wait() error {
	p.once.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			p.err = &ExitError{Argv: p.cmd.Args, Stderr: strings.TrimSpace(p.stderr.String()), Err: err}
		}
	})
	return p.err
}
