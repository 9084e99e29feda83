package health

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"

    "github.com/hashicorp/go-multierror"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-kvcluster/pkg/balancer"
    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-kvcluster/pkg/observability/metrics"
)

// DefaultMinHealthyRatio is the share of the expected cluster that must
// answer the initial probe.
const DefaultMinHealthyRatio = 0.5

// Task is a unit of work run against the connection picked by the selector.
type Task func(ctx context.Context, conn connection.Connection) error

// RegistryOptions configures NewRegistry. Zero values select defaults.
type RegistryOptions struct {
    Selector        balancer.Selector
    MinHealthyRatio float64
    // ExpectedSize is the nominal cluster size. It is raised to
    // len(conns) when smaller.
    ExpectedSize int
    Observers    []Observer
    Logger       *zap.Logger
}

func (o *RegistryOptions) withDefaults(n int) error {
    if o.Selector == nil { o.Selector = balancer.NewRoundRobin() }
    if o.MinHealthyRatio == 0 { o.MinHealthyRatio = DefaultMinHealthyRatio }
    if o.MinHealthyRatio < 0 || o.MinHealthyRatio > 1 {
        return fmt.Errorf("health: min healthy ratio %v out of range (0,1]", o.MinHealthyRatio)
    }
    if o.ExpectedSize < n { o.ExpectedSize = n }
    o.Logger = logutil.OrNop(o.Logger)
    return nil
}

// Registry partitions connections into healthy and unhealthy sets. The
// healthy slice is published through an atomic pointer and replaced, never
// modified, on each transition, so selection needs no lock. All mutation
// happens under mu.
type Registry struct {
    opts    RegistryOptions
    healthy atomic.Pointer[[]connection.Connection]
    closedF atomic.Bool

    mu        sync.Mutex
    unhealthy []connection.Connection
    closed    bool

    // notifyMu is acquired before mu is released so notifications are
    // delivered in the order transitions were applied.
    notifyMu sync.Mutex
}

// NewRegistry probes every connection in parallel and builds the initial
// partition. It fails with ErrConstruction when fewer than MinHealthyRatio
// of ExpectedSize connections answer. On failure nothing is closed; the
// caller still owns conns.
func NewRegistry(ctx context.Context, conns []connection.Connection, opts RegistryOptions) (*Registry, error) {
    if len(conns) == 0 { return nil, ErrNoConnections }
    seen := make(map[string]struct{}, len(conns))
    for _, c := range conns {
        id := c.ID()
        if id == "" { return nil, ErrEmptyID }
        if _, dup := seen[id]; dup { return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id) }
        seen[id] = struct{}{}
    }
    if err := opts.withDefaults(len(conns)); err != nil { return nil, err }

    probes := make([]error, len(conns))
    var g errgroup.Group
    for i, c := range conns {
        g.Go(func() error {
            probes[i] = c.Ping(ctx)
            return nil
        })
    }
    _ = g.Wait()

    healthy := make([]connection.Connection, 0, len(conns))
    var unhealthy []connection.Connection
    for i, c := range conns {
        if probes[i] != nil {
            logutil.Warnf(opts.Logger, "initial probe failed for %s: %v", c.ID(), probes[i])
            unhealthy = append(unhealthy, c)
            continue
        }
        healthy = append(healthy, c)
    }

    ratio := float64(len(healthy)) / float64(opts.ExpectedSize)
    if ratio < opts.MinHealthyRatio {
        return nil, fmt.Errorf("%w: %d of %d reachable (%.2f < %.2f)",
            ErrConstruction, len(healthy), opts.ExpectedSize, ratio, opts.MinHealthyRatio)
    }

    r := &Registry{opts: opts, unhealthy: unhealthy}
    r.healthy.Store(&healthy)
    logutil.Infof(opts.Logger, "health registry ready: healthy=%v unhealthy=%v", connection.IDs(healthy), connection.IDs(unhealthy))
    r.notifyMu.Lock()
    r.notify(connection.IDs(healthy), connection.IDs(unhealthy))
    return r, nil
}

// Execute runs task on the next healthy connection. A connectivity failure
// triggers Demote before the original error is returned. When the task
// runs out of the caller's deadline the node is still probed, on a context
// detached from the caller and bounded only by the connection's own
// timeout, so a hung node is demoted. Other errors and panics pass through
// untouched. There is no retry.
func (r *Registry) Execute(ctx context.Context, task Task) error {
    if r.closedF.Load() { return ErrClosed }
    conn, err := r.opts.Selector.Next(*r.healthy.Load())
    if err != nil { return fmt.Errorf("%w: %w", ErrNoHealthyNodes, err) }
    err = task(ctx, conn)
    switch {
    case connection.Classify(err) == connection.OutcomeConnectivity:
        r.Demote(ctx, conn)
    case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled):
        r.Demote(context.WithoutCancel(ctx), conn)
    }
    return err
}

// Demote confirms a suspected failure with a synchronous Ping and moves conn
// to the unhealthy set when the probe fails. It reports whether a
// transition happened. A probe aborted by ctx confirms nothing.
func (r *Registry) Demote(ctx context.Context, conn connection.Connection) bool {
    if r.closedF.Load() || indexOf(*r.healthy.Load(), conn.ID()) < 0 { return false }
    perr := conn.Ping(ctx)
    if perr == nil || ctx.Err() != nil {
        obsmetrics.DemotionsAvoided.Inc()
        if perr == nil {
            logutil.Debugf(r.opts.Logger, "demotion of %s skipped: node answered probe", conn.ID())
        } else {
            logutil.Debugf(r.opts.Logger, "demotion of %s skipped: %v", conn.ID(), ctx.Err())
        }
        return false
    }

    r.mu.Lock()
    cur := *r.healthy.Load()
    idx := indexOf(cur, conn.ID())
    if r.closed || idx < 0 {
        r.mu.Unlock()
        return false
    }
    next := make([]connection.Connection, 0, len(cur)-1)
    next = append(next, cur[:idx]...)
    next = append(next, cur[idx+1:]...)
    unhealthy := append(append([]connection.Connection(nil), r.unhealthy...), cur[idx])
    r.healthy.Store(&next)
    r.unhealthy = unhealthy
    h, u := connection.IDs(next), connection.IDs(unhealthy)
    r.notifyMu.Lock()
    r.mu.Unlock()

    obsmetrics.Demotions.WithLabelValues(conn.ID()).Inc()
    logutil.Warnf(r.opts.Logger, "connection %s demoted: %v", conn.ID(), perr)
    r.notify(h, u)
    return true
}

// Promote moves the given connections from unhealthy to healthy in one
// batch and returns the ids that actually moved. A non-empty batch yields
// exactly one notification.
func (r *Registry) Promote(conns []connection.Connection) []string {
    if len(conns) == 0 { return nil }
    r.mu.Lock()
    if r.closed {
        r.mu.Unlock()
        return nil
    }
    want := make(map[string]struct{}, len(conns))
    for _, c := range conns { want[c.ID()] = struct{}{} }
    cur := *r.healthy.Load()
    next := append(make([]connection.Connection, 0, len(cur)+len(conns)), cur...)
    var rest []connection.Connection
    var moved []string
    for _, c := range r.unhealthy {
        if _, ok := want[c.ID()]; ok {
            next = append(next, c)
            moved = append(moved, c.ID())
            continue
        }
        rest = append(rest, c)
    }
    if len(moved) == 0 {
        r.mu.Unlock()
        return nil
    }
    r.healthy.Store(&next)
    r.unhealthy = rest
    h, u := connection.IDs(next), connection.IDs(rest)
    r.notifyMu.Lock()
    r.mu.Unlock()

    for _, id := range moved { obsmetrics.Promotions.WithLabelValues(id).Inc() }
    logutil.Infof(r.opts.Logger, "connections promoted: %v", moved)
    r.notify(h, u)
    return moved
}

// Healthy returns a snapshot of the healthy connections in routing order.
func (r *Registry) Healthy() []connection.Connection {
    return append([]connection.Connection(nil), *r.healthy.Load()...)
}

// Unhealthy returns a snapshot of the unhealthy connections in demotion order.
func (r *Registry) Unhealthy() []connection.Connection {
    r.mu.Lock(); defer r.mu.Unlock()
    return append([]connection.Connection(nil), r.unhealthy...)
}

// ExpectedSize is the nominal cluster size used for the health ratio.
func (r *Registry) ExpectedSize() int { return r.opts.ExpectedSize }

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool { return r.closedF.Load() }

// Close closes every connection in both sets. Later calls return nil.
func (r *Registry) Close() error {
    r.mu.Lock()
    if r.closed {
        r.mu.Unlock()
        return nil
    }
    r.closed = true
    r.closedF.Store(true)
    all := append(append([]connection.Connection(nil), *r.healthy.Load()...), r.unhealthy...)
    r.mu.Unlock()

    var result *multierror.Error
    for _, c := range all {
        if err := c.Close(); err != nil {
            result = multierror.Append(result, fmt.Errorf("close %s: %w", c.ID(), err))
        }
    }
    return result.ErrorOrNil()
}

// notify must be called with notifyMu held; it releases it.
func (r *Registry) notify(healthy, unhealthy []string) {
    defer r.notifyMu.Unlock()
    for _, o := range r.opts.Observers {
        if o == nil { continue }
        o.OnHealthChange(healthy, unhealthy)
    }
}

func indexOf(conns []connection.Connection, id string) int {
    for i, c := range conns {
        if c.ID() == id { return i }
    }
    return -1
}
