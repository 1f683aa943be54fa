// Package proc runs external commands with captured output.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes argv and returns its captured output. A non-zero exit is an error.
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout, stderr string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Dir string // working directory, empty for the current one
	Env []string
}

// InputRunner is a Runner that can also feed stdin.
type InputRunner interface {
	Runner
	RunInput(ctx context.Context, argv []string, stdin string) (stdout, stderr string, err error)
}

func (r ExecRunner) Run(ctx context.Context, argv []string) (string, string, error) {
	return r.RunInput(ctx, argv, "")
}

func (r ExecRunner) RunInput(ctx context.Context, argv []string, stdin string) (string, string, error) {
	if len(argv) == 0 {
		return "", "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	if err != nil {
		err = &ExitError{Argv: argv, Stderr: strings.TrimSpace(errb.String()), Err: err}
	}
	return out.String(), errb.String(), err
}

// ExitError describes a failed command.
type ExitError struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Bounded runs argv with a timeout. Auxiliary commands use it; measured runs do not.
func Bounded(ctx context.Context, r Runner, timeout time.Duration, argv []string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Run(ctx, argv)
}
