// Package node implements a small development key-value node that speaks
// the HTTP and gRPC APIs clients of this module connect to. It exists for
// local clusters, the kvctl "node run" command and integration tests.
package node

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"

    "github.com/google/uuid"
    "github.com/hashicorp/go-multierror"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    "github.com/amirimatin/go-kvcluster/pkg/membership"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
    grpcx "github.com/amirimatin/go-kvcluster/pkg/transport/grpc"
    "github.com/amirimatin/go-kvcluster/pkg/transport/httpjson"
)

// Options configures a Node. Only ID and Store are required.
type Options struct {
    ID    string
    Store Store
    // Membership defaults to a static single-member ring.
    Membership membership.Membership
    // Seeds are gossip addresses joined after Start.
    Seeds []string

    // HTTPBind and GRPCBind enable the respective API when non-empty.
    HTTPBind string
    GRPCBind string
    TLS      *tls.Config

    Logger *zap.Logger
}

// Node serves one Store over HTTP and gRPC.
type Node struct {
    opts      Options
    down      atomic.Bool
    mu        sync.Mutex
    servers   []transport.Server
    started   bool
    stopped   bool
    eventDone chan struct{}
}

var _ transport.Backend = (*Node)(nil)

func New(opts Options) (*Node, error) {
    if opts.ID == "" { return nil, errors.New("node: empty ID") }
    if opts.Store == nil { return nil, errors.New("node: nil Store") }
    if opts.Membership == nil {
        opts.Membership = membership.NewStatic(membership.MemberInfo{ID: opts.ID})
    }
    opts.Logger = logutil.OrNop(opts.Logger).With(zap.String("node", opts.ID))
    return &Node{opts: opts}, nil
}

func (n *Node) NodeID() string { return n.opts.ID }

// SetAvailable toggles whether the node accepts traffic. An unavailable
// node keeps its listeners open but fails pings and operations with
// transport.ErrUnavailable.
func (n *Node) SetAvailable(ok bool) { n.down.Store(!ok) }

func (n *Node) Ping(ctx context.Context) error {
    if n.down.Load() { return transport.ErrUnavailable }
    return ctx.Err()
}

func (n *Node) Buckets(ctx context.Context) ([]string, error) {
    if err := n.Ping(ctx); err != nil { return nil, err }
    return n.opts.Store.Buckets()
}

func (n *Node) RingMembers(ctx context.Context) ([]string, error) {
    if err := n.Ping(ctx); err != nil { return nil, err }
    return membership.IDs(n.opts.Membership.Members()), nil
}

// Execute applies op to the local store. Writes replace the stored vclock
// with a fresh token; the last write wins.
func (n *Node) Execute(ctx context.Context, op connection.Operation) (*connection.Result, error) {
    if err := n.Ping(ctx); err != nil { return nil, err }
    if err := transport.Validate(op); err != nil { return nil, err }
    st := n.opts.Store
    switch op.Kind {
    case connection.KindGet:
        obj, ok, err := st.Get(op.Bucket, op.Key)
        if err != nil { return nil, err }
        if !ok { return &connection.Result{}, nil }
        return &connection.Result{Found: true, Value: obj.Value, ContentType: obj.ContentType, VClock: obj.VClock}, nil
    case connection.KindPut:
        obj := Object{Value: op.Value, ContentType: op.ContentType, VClock: uuid.NewString()}
        if err := st.Put(op.Bucket, op.Key, obj); err != nil { return nil, err }
        return &connection.Result{Found: true, VClock: obj.VClock}, nil
    case connection.KindDelete:
        return &connection.Result{}, st.Delete(op.Bucket, op.Key)
    default:
        keys, err := st.Keys(op.Bucket)
        if err != nil { return nil, err }
        return &connection.Result{Found: true, Keys: keys}, nil
    }
}

// Start launches gossip and the configured API servers. Everything stops
// when ctx is canceled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.started { return nil }
    n.started = true

    if err := n.opts.Membership.Start(ctx); err != nil { return fmt.Errorf("node: membership: %w", err) }
    if len(n.opts.Seeds) > 0 {
        if err := n.opts.Membership.Join(n.opts.Seeds); err != nil {
            logutil.Warnf(n.opts.Logger, "join seeds %v: %v", n.opts.Seeds, err)
        }
    }
    n.eventDone = make(chan struct{})
    go n.watchMembership(ctx, n.eventDone)

    if n.opts.HTTPBind != "" {
        s := httpjson.NewServer(n.opts.HTTPBind, n.opts.Logger)
        if n.opts.TLS != nil { s.UseTLS(n.opts.TLS) }
        n.servers = append(n.servers, s)
    }
    if n.opts.GRPCBind != "" {
        s := grpcx.NewServer(n.opts.GRPCBind, n.opts.Logger)
        if n.opts.TLS != nil { s.UseTLS(n.opts.TLS) }
        n.servers = append(n.servers, s)
    }
    for _, s := range n.servers {
        if err := s.Start(ctx, n); err != nil {
            n.stopLocked(context.Background())
            return fmt.Errorf("node: start server: %w", err)
        }
    }
    logutil.Infof(n.opts.Logger, "node started")
    return nil
}

// HTTPAddr returns the bound HTTP API address, or "" when disabled.
func (n *Node) HTTPAddr() string { return n.addrOf(func(s transport.Server) bool { _, ok := s.(*httpjson.Server); return ok }) }

// GRPCAddr returns the bound gRPC API address, or "" when disabled.
func (n *Node) GRPCAddr() string { return n.addrOf(func(s transport.Server) bool { _, ok := s.(*grpcx.Server); return ok }) }

func (n *Node) addrOf(match func(transport.Server) bool) string {
    n.mu.Lock(); defer n.mu.Unlock()
    for _, s := range n.servers {
        if match(s) { return s.Addr() }
    }
    return ""
}

// Stop leaves the ring, stops the servers and closes the store.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.stopLocked(ctx)
}

func (n *Node) stopLocked(ctx context.Context) error {
    if n.stopped { return nil }
    n.stopped = true
    var result *multierror.Error
    for _, s := range n.servers {
        if err := s.Stop(ctx); err != nil { result = multierror.Append(result, err) }
    }
    if n.started {
        _ = n.opts.Membership.Leave()
        if err := n.opts.Membership.Stop(); err != nil { result = multierror.Append(result, err) }
    }
    if n.eventDone != nil { close(n.eventDone) }
    if err := n.opts.Store.Close(); err != nil { result = multierror.Append(result, err) }
    logutil.Infof(n.opts.Logger, "node stopped")
    return result.ErrorOrNil()
}

func (n *Node) watchMembership(ctx context.Context, done <-chan struct{}) {
    evts := n.opts.Membership.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case <-done:
            return
        case ev, ok := <-evts:
            if !ok { return }
            logutil.Infof(n.opts.Logger, "ring %s: %s (%s)", ev.Type, ev.Member.ID, ev.Member.Addr)
        }
    }
}
