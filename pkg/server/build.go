package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/runningwild/vbench/pkg/proc"
)

const RepoURL = "https://github.com/valkey-io/valkey.git"

// Build checks out and compiles the server sources in Dir.
type Build struct {
	Runner proc.Runner
	Dir    string
	Commit string // "HEAD" builds whatever is checked out
	TLS    bool
	Log    *slog.Logger
}

func (b *Build) log() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}

// Steps returns the commands Run executes, in order.
func (b *Build) Steps() [][]string {
	var steps [][]string
	if _, err := os.Stat(b.Dir); err != nil {
		steps = append(steps, []string{"git", "clone", RepoURL, b.Dir})
	}
	if b.Commit != "" && b.Commit != "HEAD" {
		steps = append(steps, []string{"git", "-C", b.Dir, "checkout", b.Commit})
	}
	steps = append(steps, []string{"make", "-C", b.Dir, "distclean"})
	if b.TLS {
		steps = append(steps,
			[]string{"make", "-C", b.Dir, "BUILD_TLS=yes", "-j"},
			[]string{"sh", "-c", `cd "$1" && ./utils/gen-test-certs.sh`, "sh", b.Dir},
		)
	} else {
		steps = append(steps, []string{"make", "-C", b.Dir, "-j"})
	}
	return steps
}

// Run executes every step, stopping at the first failure. Builds are not bounded.
func (b *Build) Run(ctx context.Context) error {
	b.log().Info("Building server", "commit", b.Commit, "dir", b.Dir, "tls", b.TLS)
	for _, argv := range b.Steps() {
		b.log().Info("Running", "cmd", strings.Join(argv, " "))
		if _, _, err := b.Runner.Run(ctx, argv); err != nil {
			return fmt.Errorf("building %s: %w", b.Commit, err)
		}
	}
	return nil
}
