// Package grpc implements connection.Connection over the node gRPC API.
package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
    kvrpc "github.com/amirimatin/go-kvcluster/pkg/transport/grpc"
)

// Config describes one node endpoint.
type Config struct {
    // ID defaults to Addr.
    ID      string
    Addr    string
    Timeout time.Duration
    TLS     *tls.Config
}

// Conn holds one long-lived client connection to a node. The underlying
// channel reconnects on its own; Conn is never recreated.
type Conn struct {
    id      string
    timeout time.Duration
    cc      *grpc.ClientConn
    health  healthpb.HealthClient
}

// New creates the client channel. It does not wait for the node.
func New(cfg Config) (*Conn, error) {
    if cfg.Addr == "" { return nil, errors.New("grpc: empty address") }
    if cfg.Timeout <= 0 { cfg.Timeout = 3 * time.Second }
    if cfg.ID == "" { cfg.ID = cfg.Addr }
    opts := []grpc.DialOption{
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if cfg.TLS != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg.TLS)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    cc, err := grpc.NewClient(cfg.Addr, opts...)
    if err != nil { return nil, err }
    return &Conn{id: cfg.ID, timeout: cfg.Timeout, cc: cc, health: healthpb.NewHealthClient(cc)}, nil
}

func (c *Conn) ID() string { return c.id }

// Ping asks the standard health service whether the KV service is serving,
// then calls the node's own Ping since a serving node may still refuse
// traffic.
func (c *Conn) Ping(ctx context.Context) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    resp, err := c.health.Check(cctx, &healthpb.HealthCheckRequest{Service: kvrpc.ServiceName})
    if err != nil { return c.wrap(ctx, "ping", err) }
    if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
        return connection.Unreachable(c.id, "ping", errors.New("grpc: service "+resp.GetStatus().String()))
    }
    return c.call(ctx, "ping", kvrpc.MethodPing, &kvrpc.Empty{}, &kvrpc.PingReply{})
}

func (c *Conn) ListResources(ctx context.Context) ([]string, error) {
    var out kvrpc.BucketsReply
    if err := c.call(ctx, "list_buckets", kvrpc.MethodListBuckets, &kvrpc.Empty{}, &out); err != nil { return nil, err }
    return out.Buckets, nil
}

func (c *Conn) RingMembers(ctx context.Context) ([]string, error) {
    var out kvrpc.RingReply
    if err := c.call(ctx, "ring", kvrpc.MethodRingMembers, &kvrpc.Empty{}, &out); err != nil { return nil, err }
    return out.Members, nil
}

func (c *Conn) Execute(ctx context.Context, op connection.Operation) (*connection.Result, error) {
    if err := transport.Validate(op); err != nil { return nil, err }
    out := new(kvrpc.ExecuteReply)
    if err := c.call(ctx, string(op.Kind), kvrpc.MethodExecute, &op, out); err != nil { return nil, err }
    return out, nil
}

func (c *Conn) Close() error { return c.cc.Close() }

// call invokes method with the per-call timeout using the JSON codec.
func (c *Conn) call(ctx context.Context, op, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    err := c.cc.Invoke(cctx, method, in, out, grpc.CallContentSubtype(kvrpc.CodecName))
    return c.wrap(ctx, op, err)
}

// wrap maps gRPC status codes onto the connection error classes. When the
// caller's ctx is done its error is returned as is; expiry of the per-call
// timeout alone counts as a connectivity failure.
func (c *Conn) wrap(ctx context.Context, op string, err error) error {
    if err == nil { return nil }
    if cerr := ctx.Err(); cerr != nil { return cerr }
    st, ok := status.FromError(err)
    if !ok { return connection.Unreachable(c.id, op, err) }
    switch st.Code() {
    case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
        return connection.Unreachable(c.id, op, err)
    case codes.InvalidArgument:
        return errors.Join(transport.ErrBadRequest, err)
    case codes.NotFound:
        return errors.Join(connection.ErrNotFound, err)
    case codes.Canceled:
        return context.Canceled
    }
    return err
}

var (
    _ connection.Connection   = (*Conn)(nil)
    _ connection.RingReporter = (*Conn)(nil)
)
