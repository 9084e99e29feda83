// Package conntest provides a scriptable in-memory connection.Connection for
// tests of the balancer, health and cluster packages.
package conntest

import (
    "context"
    "errors"
    "sync"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

// ErrDown is the cause used for scripted connectivity failures.
var ErrDown = errors.New("conntest: node down")

// Conn is a fake connection whose probe results can be flipped at runtime.
type Conn struct {
    id string

    mu        sync.Mutex
    pingErr   error
    listErr   error
    resources []string
    execFn    func(ctx context.Context, op connection.Operation) (*connection.Result, error)
    pings     int
    lists     int
    execs     int
    closed    bool
}

// New returns a reachable connection that reports one bucket.
func New(id string) *Conn { return &Conn{id: id, resources: []string{"default"}} }

func (c *Conn) ID() string { return c.id }

// SetDown makes Ping and ListResources fail with a connectivity error.
func (c *Conn) SetDown(down bool) *Conn {
    c.mu.Lock(); defer c.mu.Unlock()
    if down {
        c.pingErr = connection.Unreachable(c.id, "ping", ErrDown)
        c.listErr = connection.Unreachable(c.id, "list", ErrDown)
    } else {
        c.pingErr, c.listErr = nil, nil
    }
    return c
}

// SetPingErr overrides the Ping result.
func (c *Conn) SetPingErr(err error) *Conn {
    c.mu.Lock(); defer c.mu.Unlock()
    c.pingErr = err
    return c
}

// SetResources overrides the buckets returned by ListResources.
func (c *Conn) SetResources(res ...string) *Conn {
    c.mu.Lock(); defer c.mu.Unlock()
    c.resources = res
    return c
}

// OnExecute installs the function backing Execute.
func (c *Conn) OnExecute(fn func(ctx context.Context, op connection.Operation) (*connection.Result, error)) *Conn {
    c.mu.Lock(); defer c.mu.Unlock()
    c.execFn = fn
    return c
}

func (c *Conn) Ping(ctx context.Context) error {
    c.mu.Lock(); defer c.mu.Unlock()
    c.pings++
    if err := ctx.Err(); err != nil { return err }
    return c.pingErr
}

func (c *Conn) ListResources(ctx context.Context) ([]string, error) {
    c.mu.Lock(); defer c.mu.Unlock()
    c.lists++
    if c.listErr != nil { return nil, c.listErr }
    return append([]string(nil), c.resources...), nil
}

func (c *Conn) Execute(ctx context.Context, op connection.Operation) (*connection.Result, error) {
    c.mu.Lock()
    c.execs++
    fn := c.execFn
    down := c.pingErr
    c.mu.Unlock()
    if fn != nil { return fn(ctx, op) }
    if down != nil { return nil, connection.Unreachable(c.id, string(op.Kind), ErrDown) }
    return &connection.Result{Found: true, Value: []byte(c.id)}, nil
}

func (c *Conn) Close() error {
    c.mu.Lock(); defer c.mu.Unlock()
    c.closed = true
    return nil
}

// Pings returns how many times Ping has been called.
func (c *Conn) Pings() int { c.mu.Lock(); defer c.mu.Unlock(); return c.pings }

// Lists returns how many times ListResources has been called.
func (c *Conn) Lists() int { c.mu.Lock(); defer c.mu.Unlock(); return c.lists }

// Execs returns how many times Execute has been called.
func (c *Conn) Execs() int { c.mu.Lock(); defer c.mu.Unlock(); return c.execs }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.closed }

// Conns converts fakes to the connection interface slice.
func Conns(cs ...*Conn) []connection.Connection {
    out := make([]connection.Connection, 0, len(cs))
    for _, c := range cs { out = append(out, c) }
    return out
}

// Recorder is an observer that records every notification.
type Recorder struct {
    mu     sync.Mutex
    events [][2][]string
}

func (r *Recorder) OnHealthChange(healthy, unhealthy []string) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.events = append(r.events, [2][]string{append([]string(nil), healthy...), append([]string(nil), unhealthy...)})
}

// Events returns the recorded (healthy, unhealthy) pairs in order.
func (r *Recorder) Events() [][2][]string {
    r.mu.Lock(); defer r.mu.Unlock()
    return append([][2][]string(nil), r.events...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (healthy, unhealthy []string, ok bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    if len(r.events) == 0 { return nil, nil, false }
    e := r.events[len(r.events)-1]
    return e[0], e[1], true
}

var _ connection.Connection = (*Conn)(nil)
