package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runningwild/vbench/pkg/command"
	"github.com/runningwild/vbench/pkg/config"
)

// fakeRunner answers CLI invocations by the command after the port flag.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	reply func(port, cmd string) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, argv []string) (string, string, error) {
	port, rest := "", argv
	for i, a := range argv {
		if a == "-p" && i+1 < len(argv) {
			port, rest = argv[i+1], argv[i+2:]
			break
		}
	}
	cmd := strings.Join(rest, " ")
	f.mu.Lock()
	f.calls = append(f.calls, port+" "+cmd)
	f.mu.Unlock()
	if f.reply == nil {
		return "OK\n", "", nil
	}
	out, err := f.reply(port, cmd)
	return out, "", err
}

func newClient(r *fakeRunner, ports ...int) *Client {
	return &Client{
		Runner:   r,
		Builder:  &command.Builder{CLIPath: "valkey-cli", Host: "127.0.0.1", Cfg: &config.Config{Port: ports[0]}},
		Ports:    ports,
		Interval: time.Millisecond,
	}
}

func TestPing(t *testing.T) {
	r := &fakeRunner{reply: func(_, cmd string) (string, error) { return "PONG\n", nil }}
	if err := newClient(r, 6379).Ping(context.Background(), 6379); err != nil {
		t.Fatal(err)
	}
	r.reply = func(_, cmd string) (string, error) { return "LOADING\n", nil }
	if err := newClient(r, 6379).Ping(context.Background(), 6379); err == nil {
		t.Error("Expected error for non-PONG reply")
	}
}

func TestWaitReady(t *testing.T) {
	n := 0
	r := &fakeRunner{reply: func(_, cmd string) (string, error) {
		n++
		if n < 3 {
			return "", errors.New("connection refused")
		}
		return "PONG", nil
	}}
	if err := newClient(r, 6379).WaitReady(context.Background(), 6379, time.Second); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}

	r.reply = func(_, cmd string) (string, error) { return "", errors.New("connection refused") }
	err := newClient(r, 6379).WaitReady(context.Background(), 6379, 10*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
}

func TestFlushDropsIndexesFirst(t *testing.T) {
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		if cmd == "FT._LIST" {
			if port == "7000" {
				return "idx1\nidx2\n", nil
			}
			return "ERR unknown command 'FT._LIST'", nil
		}
		return "OK", nil
	}}
	if err := newClient(r, 7000, 7001).Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"7000 FT._LIST",
		"7000 FT.DROPINDEX idx1",
		"7000 FT.DROPINDEX idx2",
		"7000 FLUSHALL SYNC",
		"7001 FT._LIST",
		"7001 FLUSHALL SYNC",
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Errorf("calls = %v\nwant %v", r.calls, want)
	}
}

func TestFlushError(t *testing.T) {
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		if cmd == "FLUSHALL SYNC" {
			return "", errors.New("connection refused")
		}
		return "", nil
	}}
	if err := newClient(r, 6379).Flush(context.Background()); err == nil {
		t.Error("Expected flush error")
	}
}

func TestExec(t *testing.T) {
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		if strings.HasPrefix(cmd, "FT.CREATE") {
			return "ERR Index already exists", nil
		}
		return "OK", nil
	}}
	c := newClient(r, 7000, 7001)
	if _, err := c.Exec(context.Background(), `CONFIG SET maxmemory "1 gb"`); err != nil {
		t.Fatal(err)
	}
	if r.calls[0] != "7000 CONFIG SET maxmemory 1 gb" {
		t.Errorf("Exec not lexed or not on default node: %q", r.calls[0])
	}
	if _, err := c.Exec(context.Background(), "FT.CREATE idx SCHEMA t TEXT"); err == nil {
		t.Error("Error reply must fail")
	}
	if _, err := c.Exec(context.Background(), `SET "a`); err == nil {
		t.Error("Lexing error must fail")
	}
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"cluster_enabled:1", map[string]string{"cluster_enabled": "1"}},
		{"cluster_state:ok\r\ncluster_slots_assigned:16384\r\ncluster_slots_ok:16384",
			map[string]string{"cluster_state": "ok", "cluster_slots_assigned": "16384", "cluster_slots_ok": "16384"}},
		{"some_key:value:with:colons", map[string]string{"some_key": "value:with:colons"}},
		{"", map[string]string{}},
		{"# Cluster\nnocolon\n", map[string]string{}},
	}
	for _, tt := range tests {
		if got := ParseInfo(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseInfo(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLauncherArgv(t *testing.T) {
	threads := 4
	l := &Launcher{
		ServerPath: "src/valkey-server",
		Cfg:        &config.Config{Port: 6379, TLSMode: true, ClusterMode: true},
		LogDir:     "results/abc",
		ModulePath: "/m/search.so",
		IOThreads:  &threads,
		Args:       map[string]any{"maxmemory": "1gb", "lazyfree-lazy-user-flush": true},
	}
	argv := l.Argv(7000, "0-1")
	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"taskset -c 0-1 src/valkey-server",
		"--tls-port 7000 --port 0",
		"--cluster-enabled yes",
		"--cluster-config-file nodes_7000.conf",
		"--logfile results/abc/valkey_7000.log",
		"--io-threads 4",
		"--loadmodule /m/search.so",
		"--lazyfree-lazy-user-flush yes --maxmemory 1gb",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Missing %q in %v", want, argv)
		}
	}

	l.Cfg = &config.Config{Port: 6379}
	l.IOThreads, l.ModulePath, l.Args = nil, "", nil
	argv = l.Argv(6379, "")
	if argv[0] != "src/valkey-server" || argv[1] != "--port" || argv[2] != "6379" {
		t.Errorf("Unexpected plain argv: %v", argv)
	}
	if strings.Contains(strings.Join(argv, " "), "--io-threads") {
		t.Errorf("io-threads should be absent: %v", argv)
	}
}

func TestLaunchSingleNodeCluster(t *testing.T) {
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		switch cmd {
		case "PING":
			return "PONG", nil
		case "CLUSTER INFO":
			return "cluster_state:ok\r\ncluster_slots_assigned:16384\r\n", nil
		}
		return "OK", nil
	}}
	cfg := &config.Config{Port: 6379, ClusterMode: true}
	c := newClient(r, 6379)
	l := &Launcher{ServerPath: "valkey-server", Client: c, Runner: r, Cfg: cfg, ReadyTimeout: time.Second}
	if err := l.Launch(context.Background()); err != nil {
		t.Fatal(err)
	}
	var cluster []string
	for _, call := range r.calls {
		if strings.Contains(call, "CLUSTER RESET") || strings.Contains(call, "ADDSLOTSRANGE") {
			cluster = append(cluster, call)
		}
	}
	want := []string{"6379 CLUSTER RESET HARD", "6379 CLUSTER ADDSLOTSRANGE 0 16383"}
	if !reflect.DeepEqual(cluster, want) {
		t.Errorf("cluster setup = %v, want %v", cluster, want)
	}
}

func TestLaunchMultiNodeCluster(t *testing.T) {
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		switch cmd {
		case "PING":
			return "PONG", nil
		case "CLUSTER INFO":
			return "cluster_state:ok", nil
		}
		return "", nil
	}}
	cfg := &config.Config{Port: 7000, ClusterMode: true, ClusterNodes: 3}
	l := &Launcher{ServerPath: "valkey-server", Client: newClient(r, 7000, 7001, 7002), Runner: r, Cfg: cfg, ReadyTimeout: time.Second}
	if err := l.Launch(context.Background()); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, call := range r.calls {
		if call == "7000 --cluster create 127.0.0.1:7000 127.0.0.1:7001 127.0.0.1:7002 --cluster-replicas 0 --cluster-yes" {
			found = true
		}
	}
	if !found {
		t.Errorf("cluster create not issued: %v", r.calls)
	}
}

func TestRelaunchResetsClusterNodes(t *testing.T) {
	// Nodes come back holding the cluster state from their nodes_<port>.conf.
	up := map[string]bool{}
	stale := map[string]bool{}
	r := &fakeRunner{}
	r.reply = func(port, cmd string) (string, error) {
		if strings.Contains(cmd, "--daemonize") {
			f := strings.Fields(cmd)
			for i, a := range f {
				if a == "--port" && i+1 < len(f) {
					up[f[i+1]], stale[f[i+1]] = true, true
				}
			}
			return "", nil
		}
		switch {
		case cmd == "PING":
			if up[port] {
				return "PONG", nil
			}
			return "", errors.New("connection refused")
		case cmd == "SHUTDOWN NOSAVE":
			up[port] = false
			return "", errors.New("connection closed")
		case cmd == "CLUSTER RESET HARD":
			stale[port] = false
		case strings.HasPrefix(cmd, "--cluster create"):
			for p, s := range stale {
				if s {
					return "", fmt.Errorf("[ERR] Node 127.0.0.1:%s is not empty", p)
				}
			}
		case cmd == "CLUSTER INFO":
			return "cluster_state:ok", nil
		}
		return "OK", nil
	}
	cfg := &config.Config{Port: 7000, ClusterMode: true, ClusterNodes: 3}
	l := &Launcher{ServerPath: "valkey-server", Client: newClient(r, 7000, 7001, 7002), Runner: r, Cfg: cfg, ReadyTimeout: time.Second}
	ctx := context.Background()
	if err := l.Launch(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Restart(ctx); err != nil {
		t.Fatalf("Restart of a formed cluster failed: %v", err)
	}
	if err := l.Apply(ctx, map[string]any{"name": "big", "io_threads": 4}); err != nil {
		t.Fatalf("Apply on a formed cluster failed: %v", err)
	}

	// Within each launch, every node is flushed and reset before create.
	var seen []string
	for _, call := range r.calls {
		switch {
		case strings.HasSuffix(call, " FLUSHALL"), strings.HasSuffix(call, " CLUSTER RESET HARD"):
			seen = append(seen, call)
		case strings.Contains(call, "--cluster create"):
			want := []string{
				"7000 FLUSHALL", "7000 CLUSTER RESET HARD",
				"7001 FLUSHALL", "7001 CLUSTER RESET HARD",
				"7002 FLUSHALL", "7002 CLUSTER RESET HARD",
			}
			if !reflect.DeepEqual(seen, want) {
				t.Errorf("before create got %v, want %v", seen, want)
			}
			seen = nil
		}
	}
}

func TestRestart(t *testing.T) {
	up := true
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		switch {
		case cmd == "SHUTDOWN NOSAVE":
			up = false
			return "", errors.New("connection closed")
		case cmd == "PING":
			if up {
				return "PONG", nil
			}
			return "", errors.New("connection refused")
		case strings.Contains(cmd, "--daemonize"):
			up = true
		}
		return "", nil
	}}
	cfg := &config.Config{Port: 6379}
	l := &Launcher{ServerPath: "valkey-server", Client: newClient(r, 6379), Runner: r, Cfg: cfg, ReadyTimeout: time.Second}
	var _ Restarter = l
	if err := l.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !up {
		t.Error("Server not relaunched")
	}
}

func TestApplyConfigSet(t *testing.T) {
	var launched []string
	up := true
	r := &fakeRunner{reply: func(port, cmd string) (string, error) {
		switch {
		case cmd == "SHUTDOWN NOSAVE":
			up = false
		case cmd == "PING":
			if up {
				return "PONG", nil
			}
			return "", errors.New("connection refused")
		case strings.Contains(cmd, "--daemonize"):
			launched = append(launched, cmd)
			up = true
		}
		return "", nil
	}}
	cfg := &config.Config{Port: 6379}
	l := &Launcher{ServerPath: "valkey-server", Client: newClient(r, 6379), Runner: r, Cfg: cfg, ReadyTimeout: time.Second}
	set := map[string]any{"name": "io4", "io_threads": 4, "server": map[string]any{"maxmemory": "1gb", "lazyfree-lazy-eviction": true}}
	if err := l.Apply(context.Background(), set); err != nil {
		t.Fatal(err)
	}
	if len(launched) != 1 {
		t.Fatalf("Expected one launch, got %v", launched)
	}
	for _, want := range []string{"--io-threads 4", "--lazyfree-lazy-eviction yes", "--maxmemory 1gb"} {
		if !strings.Contains(launched[0], want) {
			t.Errorf("Launch %q missing %q", launched[0], want)
		}
	}

	launched = nil
	if err := l.Apply(context.Background(), map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(launched[0], "--io-threads") || strings.Contains(launched[0], "--maxmemory ") {
		t.Errorf("Previous set leaked into %q", launched[0])
	}
}

func TestBuildSteps(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		b      Build
		expect []string
	}{
		{"head", Build{Dir: dir, Commit: "HEAD"}, []string{"make -C " + dir + " distclean", "make -C " + dir + " -j"}},
		{"tls", Build{Dir: dir, Commit: "abc123", TLS: true}, []string{
			"git -C " + dir + " checkout abc123",
			"make -C " + dir + " distclean",
			"make -C " + dir + " BUILD_TLS=yes -j",
			`sh -c cd "$1" && ./utils/gen-test-certs.sh sh ` + dir,
		}},
		{"clone", Build{Dir: dir + "/missing", Commit: "HEAD"}, []string{
			"git clone " + RepoURL + " " + dir + "/missing",
			"make -C " + dir + "/missing distclean",
			"make -C " + dir + "/missing -j",
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, s := range tc.b.Steps() {
				got = append(got, strings.Join(s, " "))
			}
			if !reflect.DeepEqual(got, tc.expect) {
				t.Errorf("Steps() = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestBuildStopsOnFailure(t *testing.T) {
	r := &fakeRunner{reply: func(_, cmd string) (string, error) {
		if strings.Contains(cmd, "distclean") {
			return "", errors.New("no makefile")
		}
		return "", nil
	}}
	b := &Build{Runner: r, Dir: t.TempDir(), Commit: "HEAD"}
	if err := b.Run(context.Background()); err == nil {
		t.Fatal("Expected build error")
	}
	if len(r.calls) != 1 {
		t.Errorf("Expected to stop after the failing step, got %v", r.calls)
	}
}
