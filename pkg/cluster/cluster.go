package cluster

import (
    "context"
    "fmt"
    "sync"

    "github.com/hashicorp/go-multierror"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/health"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-kvcluster/pkg/observability/metrics"
)

// Facade exposes the high-level API for consumers.
type Facade interface {
    Do(ctx context.Context, task func(ctx context.Context, conn connection.Connection) error) error
    Status() *ClusterStatus
    Subscribe(ctx context.Context) <-chan Event
    Shutdown(ctx context.Context) error
}

// Cluster routes tasks across healthy node connections, demotes nodes that
// fail a confirming probe, and brings them back from a background recovery
// loop.
type Cluster struct {
    opts Options
    reg  *health.Registry
    rec  *health.Recovery
    eb   *eventBus

    mu       sync.Mutex
    closed   bool
    closeErr error
}

var _ Facade = (*Cluster)(nil)

// New validates opts, probes every connection and starts recovery. It fails
// with ErrConstruction (wrapped) when too few nodes answer; in that case no
// goroutine is left running.
func New(ctx context.Context, opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts.Logger = logutil.OrNop(opts.Logger)
    obsmetrics.Register()

    c := &Cluster{opts: opts, eb: newEventBus()}
    observers := make([]health.Observer, 0, len(opts.Observers)+2)
    observers = append(observers, obsmetrics.Observer{Cluster: opts.Name})
    observers = append(observers, opts.Observers...)
    observers = append(observers, c.eb)

    reg, err := health.NewRegistry(ctx, opts.Connections, health.RegistryOptions{
        Selector:        opts.Selector,
        MinHealthyRatio: opts.MinHealthyRatio,
        ExpectedSize:    opts.ExpectedSize,
        Observers:       observers,
        Logger:          opts.Logger,
    })
    if err != nil {
        if opts.CloseOnError {
            for _, conn := range opts.Connections { _ = conn.Close() }
        }
        return nil, fmt.Errorf("cluster: %w", err)
    }
    c.reg = reg
    c.rec = health.NewRecovery(reg, health.RecoveryOptions{
        Interval: opts.RecoveryInterval,
        Check:    opts.RecoveryCheck,
        Clock:    opts.Clock,
        OnError:  opts.OnRecoveryError,
        Logger:   opts.Logger,
    })
    c.rec.Start(context.WithoutCancel(ctx))
    logutil.Infof(opts.Logger, "cluster started: %d connections, recovery every %s", len(opts.Connections), c.rec.Interval())
    return c, nil
}

// Do runs task on the next healthy connection. See Execute.
func (c *Cluster) Do(ctx context.Context, task func(ctx context.Context, conn connection.Connection) error) error {
    _, err := Execute(ctx, c, func(ctx context.Context, conn connection.Connection) (struct{}, error) {
        return struct{}{}, task(ctx, conn)
    })
    return err
}

// Recover runs one recovery pass immediately and returns the promoted ids.
func (c *Cluster) Recover(ctx context.Context) []string { return c.rec.RunOnce(ctx) }

// Status returns the current partition and derived health figures.
func (c *Cluster) Status() *ClusterStatus {
    h := connection.IDs(c.reg.Healthy())
    u := connection.IDs(c.reg.Unhealthy())
    size := c.reg.ExpectedSize()
    s := &ClusterStatus{
        Healthy:          h,
        Unhealthy:        u,
        Size:             size,
        Ratio:            float64(len(h)) / float64(size),
        RecoveryInterval: c.rec.Interval().String(),
        Closed:           c.reg.Closed(),
    }
    min := c.opts.MinHealthyRatio
    if min == 0 { min = health.DefaultMinHealthyRatio }
    if len(h) == 0 {
        s.Warnings = append(s.Warnings, "no healthy connections")
    } else if s.Ratio < min {
        s.Warnings = append(s.Warnings, fmt.Sprintf("healthy ratio %.2f below %.2f", s.Ratio, min))
    }
    return s
}

// Close is a convenience alias for Shutdown with a background context.
func (c *Cluster) Close() error {
    return c.Shutdown(context.Background())
}

// Shutdown stops recovery, closes every connection and ends all
// subscriptions. It is idempotent; later calls return the first result.
func (c *Cluster) Shutdown(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return c.closeErr
    }
    c.closed = true

    stopped := make(chan struct{})
    go func() { c.rec.Stop(); close(stopped) }()
    var result *multierror.Error
    select {
    case <-stopped:
    case <-ctx.Done():
        result = multierror.Append(result, fmt.Errorf("cluster: waiting for recovery: %w", ctx.Err()))
    }
    if err := c.reg.Close(); err != nil {
        result = multierror.Append(result, err)
    }
    c.eb.shutdown()
    obsmetrics.Observer{Cluster: c.opts.Name}.Forget()
    c.closeErr = result.ErrorOrNil()
    logutil.Infof(c.opts.Logger, "cluster shut down")
    return c.closeErr
}
