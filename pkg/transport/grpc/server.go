package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    "github.com/amirimatin/go-kvcluster/pkg/observability/tracing"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
)

// Server exposes a Backend as the kv.v1.KV gRPC service plus the standard
// health service.
type Server struct {
    bind   string
    tlsCfg *tls.Config
    logger *zap.Logger

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrNop(logger)}
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Start(ctx context.Context, b transport.Backend) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    var opts []grpc.ServerOption
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&kvServiceDesc, &kvImpl{b: b})
    hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(c)
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            logutil.Errorf(s.logger, "grpc: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "grpc api listening on %s", lis.Addr())
    return nil
}

func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing the stop
// when ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health, s.lis = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
        <-ch
    }
    return nil
}

var _ transport.Server = (*Server)(nil)

type kvImpl struct{ b transport.Backend }

func (k *kvImpl) Ping(ctx context.Context, _ *Empty) (*PingReply, error) {
    if err := k.b.Ping(ctx); err != nil { return nil, status.Error(codes.Unavailable, err.Error()) }
    return &PingReply{Node: k.b.NodeID()}, nil
}

func (k *kvImpl) ListBuckets(ctx context.Context, _ *Empty) (*BucketsReply, error) {
    res, err := k.b.Buckets(ctx)
    if err != nil { return nil, toStatus(err) }
    return &BucketsReply{Buckets: res}, nil
}

func (k *kvImpl) Execute(ctx context.Context, in *ExecuteRequest) (*ExecuteReply, error) {
    if err := transport.Validate(*in); err != nil { return nil, toStatus(err) }
    ctx, span := tracing.StartSpan(ctx, "grpc."+string(in.Kind))
    res, err := k.b.Execute(ctx, *in)
    tracing.End(span, err)
    if err != nil { return nil, toStatus(err) }
    return res, nil
}

func (k *kvImpl) RingMembers(ctx context.Context, _ *Empty) (*RingReply, error) {
    members, err := k.b.RingMembers(ctx)
    if err != nil { return nil, toStatus(err) }
    return &RingReply{Node: k.b.NodeID(), Members: members}, nil
}

func toStatus(err error) error {
    switch {
    case errors.Is(err, transport.ErrBadRequest):
        return status.Error(codes.InvalidArgument, err.Error())
    case errors.Is(err, connection.ErrNotFound):
        return status.Error(codes.NotFound, err.Error())
    case errors.Is(err, transport.ErrUnavailable):
        return status.Error(codes.Unavailable, err.Error())
    case errors.Is(err, context.Canceled):
        return status.Error(codes.Canceled, err.Error())
    case errors.Is(err, context.DeadlineExceeded):
        return status.Error(codes.DeadlineExceeded, err.Error())
    }
    return status.Error(codes.Internal, err.Error())
}
