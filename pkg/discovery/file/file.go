package file

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a file with one address per line or a comma-separated list.
    // Glob patterns merge every matching file.
    Path string
    // Env names a variable that overrides the file when non-empty.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
    Clock   clockwork.Clock
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Clock == nil { opts.Clock = clockwork.NewRealClock() }
    return &impl{opts: opts}
}

func (i *impl) Nodes(ctx context.Context) ([]string, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    i.mu.Lock(); defer i.mu.Unlock()
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" {
            return result(discovery.Normalize(discovery.ParseCSV(v)))
        }
    }
    if i.opts.Path == "" { return nil, discovery.ErrNoNodes }

    now := i.opts.Clock.Now()
    stat, err := os.Stat(i.opts.Path)
    if err == nil {
        if i.cache == nil || stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            nodes, err := loadFile(i.opts.Path)
            if err != nil { return nil, err }
            i.cache, i.last, i.mtime = nodes, now, stat.ModTime()
        }
        return result(i.cache)
    }
    if i.cache != nil && now.Sub(i.last) < i.opts.Refresh { return result(i.cache) }
    matches, gerr := filepath.Glob(i.opts.Path)
    if gerr != nil { return nil, fmt.Errorf("discovery: %w", gerr) }
    if len(matches) == 0 { return nil, fmt.Errorf("discovery: %w", err) }
    var all []string
    for _, m := range matches {
        nodes, err := loadFile(m)
        if err != nil { return nil, err }
        all = append(all, nodes...)
    }
    i.cache, i.last = discovery.Normalize(all), now
    return result(i.cache)
}

func result(nodes []string) ([]string, error) {
    if len(nodes) == 0 { return nil, discovery.ErrNoNodes }
    return append([]string(nil), nodes...), nil
}

func loadFile(path string) ([]string, error) {
    f, err := os.Open(path)
    if err != nil { return nil, fmt.Errorf("discovery: %w", err) }
    defer f.Close()
    var nodes []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        nodes = append(nodes, discovery.ParseCSV(line)...)
    }
    if err := s.Err(); err != nil { return nil, fmt.Errorf("discovery: read %s: %w", path, err) }
    return discovery.Normalize(nodes), nil
}
