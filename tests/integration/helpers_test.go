//go:build integration

package integration

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/membership"
    "github.com/amirimatin/go-kvcluster/pkg/node"
)

var errNotYet = &temporaryError{}

type temporaryError struct{}

func (e *temporaryError) Error() string { return "not yet" }

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if err := fn(); err == nil {
            return
        } else {
            last = err
        }
        time.Sleep(100 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", timeout, last)
}

// startNode starts a dev node serving both APIs. Empty binds pick free ports.
func startNode(t *testing.T, ctx context.Context, id, httpBind, grpcBind string, ring membership.Membership) *node.Node {
    t.Helper()
    if httpBind == "" { httpBind = "127.0.0.1:0" }
    if grpcBind == "" { grpcBind = "127.0.0.1:0" }
    n, err := node.New(node.Options{ID: id, Store: node.NewMemoryStore(), Membership: ring, HTTPBind: httpBind, GRPCBind: grpcBind})
    if err != nil { t.Fatalf("node %s: %v", id, err) }
    if err := n.Start(ctx); err != nil { t.Fatalf("start %s: %v", id, err) }
    t.Cleanup(func() { _ = n.Stop(context.Background()) })
    return n
}

func putOp() connection.Operation {
    return connection.Operation{Kind: connection.KindPut, Bucket: "b", Key: "seed", Value: []byte("v")}
}
