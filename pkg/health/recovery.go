package health

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-kvcluster/pkg/observability/metrics"
)

// DefaultRecoveryInterval is the delay between recovery runs.
const DefaultRecoveryInterval = 5 * time.Second

// RecoveryOptions configures NewRecovery. Zero values select defaults.
type RecoveryOptions struct {
    Interval time.Duration
    Check    RecoveryCheck
    Clock    clockwork.Clock
    // OnError receives panics raised during a run, converted to errors.
    OnError func(error)
    Logger  *zap.Logger
}

// Recovery periodically re-probes unhealthy connections and promotes those
// that are reachable and pass Check. Runs never overlap: a single goroutine
// drives them and ticks that arrive during a run are dropped.
type Recovery struct {
    reg  *Registry
    opts RecoveryOptions

    mu      sync.Mutex
    cancel  context.CancelFunc
    done    chan struct{}
    stopped bool
}

// NewRecovery builds a scheduler for reg. Call Start to run it.
func NewRecovery(reg *Registry, opts RecoveryOptions) *Recovery {
    if opts.Interval <= 0 { opts.Interval = DefaultRecoveryInterval }
    if opts.Check == nil { opts.Check = HasResources }
    if opts.Clock == nil { opts.Clock = clockwork.NewRealClock() }
    opts.Logger = logutil.OrNop(opts.Logger)
    return &Recovery{reg: reg, opts: opts}
}

// Interval returns the configured run interval.
func (r *Recovery) Interval() time.Duration { return r.opts.Interval }

// Start launches the loop. The first run starts immediately. Start is a
// no-op when already started or stopped.
func (r *Recovery) Start(ctx context.Context) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.done != nil || r.stopped { return }
    ctx, cancel := context.WithCancel(ctx)
    r.cancel = cancel
    r.done = make(chan struct{})
    go r.loop(ctx, r.done)
}

// Stop cancels in-flight probes and waits for the loop to exit.
func (r *Recovery) Stop() {
    r.mu.Lock()
    r.stopped = true
    cancel, done := r.cancel, r.done
    r.mu.Unlock()
    if cancel == nil { return }
    cancel()
    <-done
}

func (r *Recovery) loop(ctx context.Context, done chan struct{}) {
    defer close(done)
    r.RunOnce(ctx)
    t := r.opts.Clock.NewTicker(r.opts.Interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.Chan():
            r.RunOnce(ctx)
        }
    }
}

// RunOnce performs a single recovery pass and returns the promoted ids.
// A panic inside the pass is recovered and reported through OnError.
func (r *Recovery) RunOnce(ctx context.Context) (promoted []string) {
    defer func() {
        if p := recover(); p != nil {
            obsmetrics.RecoveryFailures.Inc()
            err := fmt.Errorf("health: recovery run panicked: %v", p)
            logutil.Warnf(r.opts.Logger, "%v", err)
            if r.opts.OnError != nil { r.opts.OnError(err) }
            promoted = nil
        }
    }()
    obsmetrics.RecoveryRuns.Inc()
    return r.run(ctx)
}

func (r *Recovery) run(ctx context.Context) []string {
    down := r.reg.Unhealthy()
    if len(down) == 0 { return nil }
    var ready []connection.Connection
    for _, c := range down {
        if ctx.Err() != nil { return nil }
        if err := c.Ping(ctx); err != nil {
            logutil.Debugf(r.opts.Logger, "recovery: %s still unreachable: %v", c.ID(), err)
            continue
        }
        if err := r.opts.Check(ctx, c); err != nil {
            logutil.Debugf(r.opts.Logger, "recovery: %s not ready: %v", c.ID(), err)
            continue
        }
        ready = append(ready, c)
    }
    return r.reg.Promote(ready)
}
