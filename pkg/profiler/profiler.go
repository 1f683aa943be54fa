// Package profiler records perf profiles of the server while a benchmark runs.
// Every failure is logged and swallowed: profiling never fails a benchmark.
package profiler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/runningwild/vbench/pkg/proc"
	"github.com/runningwild/vbench/pkg/sysinfo"
)

const flameGraphURL = "https://raw.githubusercontent.com/brendangregg/FlameGraph/v1.0"

var scriptNames = []string{"stackcollapse-perf.pl", "flamegraph.pl"}

// Target selects the process to profile.
type Target struct {
	Process string // process name, e.g. valkey-server
	Port    int    // 0 profiles the first matching process
}

// Pattern is the pgrep -f expression matching the target.
func (t Target) Pattern() string {
	if t.Port > 0 {
		return fmt.Sprintf("%s.*:%d", t.Process, t.Port)
	}
	return t.Process
}

type session struct {
	id       string
	settings Settings
	data     string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Profiler runs one background session per profiled unit.
type Profiler struct {
	Dir        string // flamegraphs directory
	ScriptsDir string
	Runner     proc.Runner
	Spawner    proc.Spawner
	Machine    string
	Log        *slog.Logger

	stamp    string
	mu       sync.Mutex
	sessions map[string]*session
}

// New creates the output directory and stamps the profiler with its creation time.
func New(dir, scriptsDir string, r proc.ExecRunner, log *slog.Logger) (*Profiler, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating profile dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("Profiler output directory", "dir", dir)
	return &Profiler{
		Dir:        dir,
		ScriptsDir: scriptsDir,
		Runner:     r,
		Spawner:    r,
		Machine:    sysinfo.Machine(),
		Log:        log,
		stamp:      time.Now().Format("20060102_150405"),
		sessions:   map[string]*session{},
	}, nil
}

func (p *Profiler) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// CallGraph is fp on arm, where dwarf unwinding is unreliable, and dwarf elsewhere.
func (p *Profiler) CallGraph() string {
	if sysinfo.IsARM(p.Machine) {
		return "fp"
	}
	return "dwarf"
}

func (p *Profiler) dataPath(id string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s_%s.perf.data", id, p.stamp))
}

func (p *Profiler) sudo(s Settings, argv ...string) []string {
	if s.Sudo {
		return append([]string{"/usr/bin/sudo"}, argv...)
	}
	return argv
}

// RecordArgv builds the perf record command for pid.
func (p *Profiler) RecordArgv(s Settings, pid, out string) []string {
	argv := []string{"perf", "record"}
	argv = append(argv, s.Events()...)
	argv = append(argv,
		"-F", strconv.Itoa(s.Freq),
		"--call-graph", p.CallGraph(),
		"-p", pid,
		"-o", out,
	)
	return p.sudo(s, argv...)
}

// Start begins a session in the background. It returns immediately.
func (p *Profiler) Start(ctx context.Context, id string, s Settings, t Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = map[string]*session{}
	}
	if old, ok := p.sessions[id]; ok {
		p.log().Warn("Profiling session already running, replacing", "id", id)
		old.cancel()
		<-old.done
	}
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{id: id, settings: s, data: p.dataPath(id), cancel: cancel, done: make(chan struct{})}
	p.sessions[id] = sess

	w := s.Window(id)
	p.log().Info("Profiling started", "id", id, "delay", w.Delay, "duration", w.Duration, "port", t.Port)
	go func() {
		defer close(sess.done)
		p.record(ctx, sess, w, t)
	}()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (p *Profiler) record(ctx context.Context, sess *session, w Window, t Target) {
	if !sleep(ctx, w.Delay) {
		p.log().Info("Profiling cancelled before recording", "id", sess.id)
		return
	}

	pattern := t.Pattern()
	out, _, err := p.Runner.Run(ctx, []string{"pgrep", "-f", pattern})
	pids := strings.Fields(out)
	if err != nil || len(pids) == 0 {
		p.log().Warn("Process not found", "pattern", pattern, "error", err)
		return
	}
	pid := pids[0]
	p.log().Info("Profiling process", "pid", pid, "pattern", pattern)

	perf, err := p.Spawner.Start(p.RecordArgv(sess.settings, pid, sess.data))
	if err != nil {
		p.log().Warn("Profiling failed", "error", err)
		return
	}
	p.log().Info("Recording", "mode", sess.settings.Mode, "freq", sess.settings.Freq, "duration", w.Duration)

	sleep(ctx, w.Duration)
	p.interrupt(sess.settings, perf)
	if err := perf.Wait(); err != nil {
		// perf exits non-zero on SIGINT; the data file tells whether it worked.
		p.log().Debug("perf exited", "error", err)
	}
}

// interrupt stops perf with SIGINT so it flushes its data file. A sudo'd perf runs
// as root, so the signal is sent through sudo to the child of the sudo process.
func (p *Profiler) interrupt(s Settings, perf proc.Process) {
	if !s.Sudo {
		if err := perf.Interrupt(); err != nil {
			p.log().Warn("Stop failed", "error", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pid := strconv.Itoa(perf.Pid())
	if out, _, err := p.Runner.Run(ctx, []string{"pgrep", "-P", pid}); err == nil {
		if child := strings.Fields(out); len(child) > 0 {
			pid = child[0]
		}
	}
	if _, _, err := p.Runner.Run(ctx, []string{"/usr/bin/sudo", "kill", "-INT", pid}); err != nil {
		p.log().Warn("Stop failed", "pid", pid, "error", err)
	}
}

// Stop ends the session, waits for it, and writes the report and flamegraph.
func (p *Profiler) Stop(ctx context.Context, id string) {
	p.mu.Lock()
	sess, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	<-sess.done

	st, err := os.Stat(sess.data)
	if err != nil || st.Size() == 0 {
		p.log().Warn("No perf data", "id", id)
		return
	}
	p.report(ctx, sess)
	p.flamegraph(ctx, sess)
}

func (p *Profiler) report(ctx context.Context, sess *session) {
	out, _, err := p.Runner.Run(ctx, p.sudo(sess.settings, "perf", "report", "-i", sess.data, "--stdio"))
	if err != nil {
		p.log().Warn("perf report failed", "id", sess.id, "error", err)
		return
	}
	path := filepath.Join(p.Dir, fmt.Sprintf("%s_%s_report.txt", sess.id, p.stamp))
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		p.log().Warn("Writing report failed", "error", err)
		return
	}
	p.log().Info("Report", "path", path)
}

func (p *Profiler) scripts() (string, string, bool) {
	sc := filepath.Join(p.ScriptsDir, scriptNames[0])
	fg := filepath.Join(p.ScriptsDir, scriptNames[1])
	for _, s := range []string{sc, fg} {
		if _, err := os.Stat(s); err != nil {
			return "", "", false
		}
	}
	return sc, fg, true
}

func (p *Profiler) flamegraph(ctx context.Context, sess *session) {
	sc, fg, ok := p.scripts()
	if !ok {
		p.log().Warn("Flamegraph scripts not found", "dir", p.ScriptsDir)
		return
	}
	ir, ok := p.Runner.(proc.InputRunner)
	if !ok {
		return
	}
	script, _, err := ir.Run(ctx, p.sudo(sess.settings, "perf", "script", "-i", sess.data))
	if err != nil {
		p.log().Warn("perf script failed", "error", err)
		return
	}
	folded, _, err := ir.RunInput(ctx, []string{"perl", sc}, script)
	if err != nil {
		p.log().Warn("stackcollapse failed", "error", err)
		return
	}
	svg, _, err := ir.RunInput(ctx, []string{"perl", fg}, folded)
	if err != nil {
		p.log().Warn("flamegraph failed", "error", err)
		return
	}
	path := filepath.Join(p.Dir, fmt.Sprintf("%s_%s.svg", sess.id, p.stamp))
	if err := os.WriteFile(path, []byte(svg), 0644); err != nil {
		p.log().Warn("Writing flamegraph failed", "error", err)
		return
	}
	p.log().Info("Flamegraph", "path", path)
}

// EnsureScripts downloads the flamegraph scripts into ScriptsDir if they are missing.
func (p *Profiler) EnsureScripts(ctx context.Context) error {
	if _, _, ok := p.scripts(); ok {
		p.log().Info("Flamegraph scripts already cached")
		return nil
	}
	if err := os.MkdirAll(p.ScriptsDir, 0755); err != nil {
		return err
	}
	p.log().Info("Downloading flamegraph scripts")
	for _, name := range scriptNames {
		if err := download(ctx, flameGraphURL+"/"+name, filepath.Join(p.ScriptsDir, name)); err != nil {
			return fmt.Errorf("downloading %s: %w", name, err)
		}
	}
	return nil
}

func download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
