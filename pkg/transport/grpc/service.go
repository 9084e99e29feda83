package grpc

import (
    "context"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

// Full method names of the KV service.
const (
    ServiceName       = "kv.v1.KV"
    MethodPing        = "/kv.v1.KV/Ping"
    MethodListBuckets = "/kv.v1.KV/ListBuckets"
    MethodExecute     = "/kv.v1.KV/Execute"
    MethodRingMembers = "/kv.v1.KV/RingMembers"
)

// request/response types carried over the JSON codec
type Empty struct{}

type PingReply struct {
    Node string `json:"node"`
}

type BucketsReply struct {
    Buckets []string `json:"buckets"`
}

type RingReply struct {
    Node    string   `json:"node"`
    Members []string `json:"members"`
}

type ExecuteRequest = connection.Operation
type ExecuteReply = connection.Result

// kvServer defines the methods we expose.
type kvServer interface {
    Ping(ctx context.Context, in *Empty) (*PingReply, error)
    ListBuckets(ctx context.Context, in *Empty) (*BucketsReply, error)
    Execute(ctx context.Context, in *ExecuteRequest) (*ExecuteReply, error)
    RingMembers(ctx context.Context, in *Empty) (*RingReply, error)
}

// Service descriptor and handlers (hand-written, no codegen required)
var kvServiceDesc = grpc.ServiceDesc{
    ServiceName: ServiceName,
    HandlerType: (*kvServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Ping", Handler: unary(MethodPing, func(s kvServer, ctx context.Context, in *Empty) (any, error) { return s.Ping(ctx, in) })},
        {MethodName: "ListBuckets", Handler: unary(MethodListBuckets, func(s kvServer, ctx context.Context, in *Empty) (any, error) { return s.ListBuckets(ctx, in) })},
        {MethodName: "Execute", Handler: unary(MethodExecute, func(s kvServer, ctx context.Context, in *ExecuteRequest) (any, error) { return s.Execute(ctx, in) })},
        {MethodName: "RingMembers", Handler: unary(MethodRingMembers, func(s kvServer, ctx context.Context, in *Empty) (any, error) { return s.RingMembers(ctx, in) })},
    },
}

// unary builds a grpc.MethodDesc handler for a request type In.
func unary[In any](method string, call func(s kvServer, ctx context.Context, in *In) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(In)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv.(kvServer), ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
        handler := func(ctx context.Context, req any) (any, error) {
            return call(srv.(kvServer), ctx, req.(*In))
        }
        return interceptor(ctx, in, info, handler)
    }
}
