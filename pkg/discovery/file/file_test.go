package file

import (
    "context"
    "errors"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
)

func write(t *testing.T, path, body string) {
    t.Helper()
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatal(err) }
}

func nodes(t *testing.T, d discovery.Discovery) []string {
    t.Helper()
    got, err := d.Nodes(context.Background())
    if err != nil { t.Fatal(err) }
    return got
}

func TestEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "nodes.txt")
    write(t, f, "a:1\n")

    const envName = "TEST_KVCLUSTER_NODES"
    t.Setenv(envName, "y:8,x:9")

    got := nodes(t, New(Options{Path: f, Env: envName}))
    if len(got) != 2 || got[0] != "x:9" || got[1] != "y:8" {
        t.Fatalf("env override failed, got %#v", got)
    }
}

func TestFileReadAndCacheRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "nodes.txt")
    write(t, f, "# dev ring\na:1\nb:2, a:1\n")
    clk := clockwork.NewFakeClock()

    d := New(Options{Path: f, Refresh: time.Minute, Clock: clk})
    got1 := nodes(t, d)
    if len(got1) != 2 || got1[0] != "a:1" || got1[1] != "b:2" {
        t.Fatalf("unexpected initial nodes: %#v", got1)
    }

    // Same mtime is possible on coarse filesystems; the refresh window
    // guarantees a reload either way.
    write(t, f, "b:2\nc:3\n")
    clk.Advance(2 * time.Minute)

    got2 := nodes(t, d)
    if len(got2) != 2 || got2[0] != "b:2" || got2[1] != "c:3" {
        t.Fatalf("expected refreshed nodes, got %#v", got2)
    }
}

func TestGlobReadsUniqueSorted(t *testing.T) {
    dir := t.TempDir()
    write(t, filepath.Join(dir, "a.txt"), "a:1\nb:2\n")
    write(t, filepath.Join(dir, "b.txt"), "b:2\nc:3\n")

    got := nodes(t, New(Options{Path: filepath.Join(dir, "*.txt")}))
    want := []string{"a:1", "b:2", "c:3"}
    if len(got) != len(want) {
        t.Fatalf("len mismatch: got %d want %d (%#v)", len(got), len(want), got)
    }
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("item %d: got %q want %q (%#v)", i, got[i], want[i], got)
        }
    }
}

func TestMissingAndEmpty(t *testing.T) {
    dir := t.TempDir()
    if _, err := New(Options{Path: filepath.Join(dir, "missing.txt")}).Nodes(context.Background()); err == nil {
        t.Fatal("expected error for missing file")
    }
    f := filepath.Join(dir, "empty.txt")
    write(t, f, "# nothing\n")
    if _, err := New(Options{Path: f}).Nodes(context.Background()); !errors.Is(err, discovery.ErrNoNodes) {
        t.Fatalf("expected ErrNoNodes, got %v", err)
    }
}
