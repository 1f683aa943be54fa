// Package server talks to and manages the key-value server under test.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/proc"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultIndexTimeout = 300 * time.Second
	pollInterval        = time.Second
)

var ErrNotReady = errors.New("server not ready")

// Restarter brings the servers back up with an empty keyspace.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Client drives the server's command-line client against a set of ports.
type Client struct {
	Runner  proc.Runner
	Builder *command.Builder
	Ports   []int // the first port is the default node
	Log     *slog.Logger

	Timeout      time.Duration // auxiliary commands
	IndexTimeout time.Duration // dropping search indexes
	Interval     time.Duration // readiness poll interval
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) defaultPort() int {
	if len(c.Ports) == 0 {
		return 0
	}
	return c.Ports[0]
}

func (c *Client) do(ctx context.Context, timeout time.Duration, port int, args ...string) (string, error) {
	out, _, err := proc.Bounded(ctx, c.Runner, timeout, c.Builder.CLI(port, args...))
	if err != nil {
		return out, err
	}
	if reply := strings.TrimSpace(out); isErrorReply(reply) {
		return out, fmt.Errorf("%s: %s", strings.Join(args, " "), reply)
	}
	return out, nil
}

func isErrorReply(s string) bool {
	for _, p := range []string{"ERR", "WRONGTYPE", "NOPERM", "(error)"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Ping checks one node answers PONG.
func (c *Client) Ping(ctx context.Context, port int) error {
	out, err := c.do(ctx, c.timeout(), port, "PING")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "PONG") {
		return fmt.Errorf("port %d: unexpected reply %q", port, strings.TrimSpace(out))
	}
	return nil
}

// WaitReady polls Ping until it succeeds or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, port int, timeout time.Duration) error {
	return c.poll(ctx, timeout, func() error { return c.Ping(ctx, port) })
}

func (c *Client) poll(ctx context.Context, timeout time.Duration, check func() error) error {
	interval := c.Interval
	if interval <= 0 {
		interval = pollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		err := check()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v: %v", ErrNotReady, timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Flush empties every node. Search indexes are dropped first since FLUSHALL leaves them behind.
func (c *Client) Flush(ctx context.Context) error {
	idxTimeout := c.IndexTimeout
	if idxTimeout <= 0 {
		idxTimeout = DefaultIndexTimeout
	}
	for _, port := range c.Ports {
		out, err := c.do(ctx, c.timeout(), port, "FT._LIST")
		if err != nil {
			// No search module loaded.
			c.log().Debug("Listing indexes failed", "port", port, "error", err)
		} else {
			for _, idx := range strings.Fields(out) {
				c.log().Info("Dropping index", "index", idx, "port", port)
				if _, err := c.do(ctx, idxTimeout, port, "FT.DROPINDEX", idx); err != nil {
					c.log().Warn("Dropping index failed", "index", idx, "port", port, "error", err)
				}
			}
		}
		if _, err := c.do(ctx, c.timeout(), port, "FLUSHALL", "SYNC"); err != nil {
			return fmt.Errorf("flushing port %d: %w", port, err)
		}
	}
	return nil
}

// Exec runs a raw command line against the default node.
func (c *Client) Exec(ctx context.Context, line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("lexing %q: %w", line, err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	return c.do(ctx, c.timeout(), c.defaultPort(), args...)
}

// ClusterInfo fetches and parses CLUSTER INFO from one node.
func (c *Client) ClusterInfo(ctx context.Context, port int) (map[string]string, error) {
	out, err := c.do(ctx, c.timeout(), port, "CLUSTER", "INFO")
	if err != nil {
		return nil, err
	}
	return ParseInfo(out), nil
}

// ParseInfo splits "key:value" lines. Values may contain colons.
func ParseInfo(s string) map[string]string {
	m := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}
