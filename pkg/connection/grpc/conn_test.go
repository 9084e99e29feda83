package grpc

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/membership"
    "github.com/amirimatin/go-kvcluster/pkg/node"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
)

func startNode(t *testing.T) (*node.Node, *Conn) {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    ring := membership.NewStatic(membership.MemberInfo{ID: "n1"}, membership.MemberInfo{ID: "n2"})
    n, err := node.New(node.Options{ID: "n1", Store: node.NewMemoryStore(), Membership: ring, GRPCBind: "127.0.0.1:0"})
    require.NoError(t, err)
    require.NoError(t, n.Start(ctx))
    t.Cleanup(func() { _ = n.Stop(context.Background()) })

    c, err := New(Config{ID: "n1", Addr: n.GRPCAddr(), Timeout: 2 * time.Second})
    require.NoError(t, err)
    t.Cleanup(func() { _ = c.Close() })
    return n, c
}

func TestConn_KVRoundTrip(t *testing.T) {
    ctx := context.Background()
    _, c := startNode(t)

    require.NoError(t, c.Ping(ctx))

    res, err := c.Execute(ctx, connection.Operation{Kind: connection.KindGet, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    assert.False(t, res.Found)

    put, err := c.Execute(ctx, connection.Operation{Kind: connection.KindPut, Bucket: "users", Key: "u1", Value: []byte("alice"), ContentType: "text/plain"})
    require.NoError(t, err)
    assert.NotEmpty(t, put.VClock)

    res, err = c.Execute(ctx, connection.Operation{Kind: connection.KindGet, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    assert.True(t, res.Found)
    assert.Equal(t, "alice", string(res.Value))
    assert.Equal(t, "text/plain", res.ContentType)
    assert.Equal(t, put.VClock, res.VClock)

    buckets, err := c.ListResources(ctx)
    require.NoError(t, err)
    assert.Equal(t, []string{"users"}, buckets)

    members, err := c.RingMembers(ctx)
    require.NoError(t, err)
    assert.Equal(t, []string{"n1", "n2"}, members)

    _, err = c.Execute(ctx, connection.Operation{Kind: connection.KindDelete, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    buckets, err = c.ListResources(ctx)
    require.NoError(t, err)
    assert.Empty(t, buckets)
}

func TestConn_UnavailableIsConnectivity(t *testing.T) {
    n, c := startNode(t)
    n.SetAvailable(false)
    err := c.Ping(context.Background())
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))

    _, err = c.Execute(context.Background(), connection.Operation{Kind: connection.KindGet, Bucket: "b", Key: "k"})
    assert.True(t, connection.IsConnectivity(err))
}

func TestConn_BadRequestIsNotConnectivity(t *testing.T) {
    _, c := startNode(t)
    _, err := c.Execute(context.Background(), connection.Operation{Kind: connection.KindPut, Bucket: "b"})
    require.ErrorIs(t, err, transport.ErrBadRequest)
    assert.False(t, connection.IsConnectivity(err))
}

func TestConn_StoppedNodeIsConnectivity(t *testing.T) {
    n, c := startNode(t)
    require.NoError(t, c.Ping(context.Background()))
    require.NoError(t, n.Stop(context.Background()))

    err := c.Ping(context.Background())
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))
}

func TestConn_CanceledIsNotConnectivity(t *testing.T) {
    _, c := startNode(t)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    err := c.Ping(ctx)
    require.ErrorIs(t, err, context.Canceled)
    assert.Equal(t, connection.OutcomeOther, connection.Classify(err))
}

func TestNew_Defaults(t *testing.T) {
    _, err := New(Config{})
    assert.Error(t, err)

    c, err := New(Config{Addr: "127.0.0.1:8087"})
    require.NoError(t, err)
    defer c.Close()
    assert.Equal(t, "127.0.0.1:8087", c.ID())
    assert.Equal(t, 3*time.Second, c.timeout)
}
