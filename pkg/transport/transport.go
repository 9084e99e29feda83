package transport

import (
    "context"
    "errors"
    "fmt"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

// HeaderVClock carries the causal token of a value over HTTP.
const HeaderVClock = "X-Kv-Vclock"

var (
    // ErrBadRequest marks operations the node rejects as malformed.
    ErrBadRequest = errors.New("transport: bad request")
    // ErrUnavailable means the node is up but refuses traffic.
    ErrUnavailable = errors.New("transport: node unavailable")
)

// Backend is the node-side surface exposed by the HTTP and gRPC servers.
type Backend interface {
    NodeID() string
    Ping(ctx context.Context) error
    Buckets(ctx context.Context) ([]string, error)
    Execute(ctx context.Context, op connection.Operation) (*connection.Result, error)
    RingMembers(ctx context.Context) ([]string, error)
}

// Server serves a Backend until ctx is canceled or Stop is called.
type Server interface {
    Start(ctx context.Context, b Backend) error
    // Addr returns the bound address once started.
    Addr() string
    Stop(ctx context.Context) error
}

// BucketList is the body of the bucket listing.
type BucketList struct {
    Buckets []string `json:"buckets"`
}

// KeyList is the body of a key listing.
type KeyList struct {
    Keys []string `json:"keys"`
}

// Stats reports the node identity and the ring members it sees.
type Stats struct {
    Node        string   `json:"node"`
    RingMembers []string `json:"ring_members"`
}

// Validate rejects operations that cannot be routed to a store.
func Validate(op connection.Operation) error {
    if op.Bucket == "" { return fmt.Errorf("%w: empty bucket", ErrBadRequest) }
    switch op.Kind {
    case connection.KindGet, connection.KindPut, connection.KindDelete:
        if op.Key == "" { return fmt.Errorf("%w: empty key", ErrBadRequest) }
    case connection.KindListKeys:
    default:
        return fmt.Errorf("%w: unknown kind %q", ErrBadRequest, op.Kind)
    }
    return nil
}
