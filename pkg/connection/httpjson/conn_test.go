package httpjson

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/membership"
    "github.com/amirimatin/go-kvcluster/pkg/node"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
    server "github.com/amirimatin/go-kvcluster/pkg/transport/httpjson"
)

func startNode(t *testing.T) (*node.Node, *httptest.Server, *Conn) {
    t.Helper()
    ring := membership.NewStatic(membership.MemberInfo{ID: "n1"}, membership.MemberInfo{ID: "n2"})
    n, err := node.New(node.Options{ID: "n1", Store: node.NewMemoryStore(), Membership: ring})
    require.NoError(t, err)
    srv := httptest.NewServer(server.Handler(n))
    t.Cleanup(srv.Close)
    c, err := New(Config{ID: "n1", Addr: srv.URL, Retries: -1})
    require.NoError(t, err)
    t.Cleanup(func() { _ = c.Close() })
    return n, srv, c
}

func TestConn_KVRoundTrip(t *testing.T) {
    ctx := context.Background()
    _, _, c := startNode(t)

    require.NoError(t, c.Ping(ctx))

    res, err := c.Execute(ctx, connection.Operation{Kind: connection.KindGet, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    assert.False(t, res.Found)

    put, err := c.Execute(ctx, connection.Operation{Kind: connection.KindPut, Bucket: "users", Key: "u1", Value: []byte(`{"name":"alice"}`), ContentType: "application/json"})
    require.NoError(t, err)
    assert.NotEmpty(t, put.VClock)

    res, err = c.Execute(ctx, connection.Operation{Kind: connection.KindGet, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    assert.True(t, res.Found)
    assert.JSONEq(t, `{"name":"alice"}`, string(res.Value))
    assert.Equal(t, "application/json", res.ContentType)
    assert.Equal(t, put.VClock, res.VClock)

    buckets, err := c.ListResources(ctx)
    require.NoError(t, err)
    assert.Equal(t, []string{"users"}, buckets)

    res, err = c.Execute(ctx, connection.Operation{Kind: connection.KindListKeys, Bucket: "users"})
    require.NoError(t, err)
    assert.Equal(t, []string{"u1"}, res.Keys)

    members, err := c.RingMembers(ctx)
    require.NoError(t, err)
    assert.Equal(t, []string{"n1", "n2"}, members)

    _, err = c.Execute(ctx, connection.Operation{Kind: connection.KindDelete, Bucket: "users", Key: "u1"})
    require.NoError(t, err)
    _, err = c.Execute(ctx, connection.Operation{Kind: connection.KindDelete, Bucket: "users", Key: "u1"})
    require.NoError(t, err, "deleting a missing key is not an error")
}

func TestConn_UnavailableIsConnectivity(t *testing.T) {
    n, _, c := startNode(t)
    n.SetAvailable(false)
    err := c.Ping(context.Background())
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))
    var se *StatusError
    require.ErrorAs(t, err, &se)
    assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestConn_ServerGoneIsConnectivity(t *testing.T) {
    _, srv, c := startNode(t)
    srv.Close()
    err := c.Ping(context.Background())
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))
}

func TestConn_BadRequestIsNotConnectivity(t *testing.T) {
    _, _, c := startNode(t)
    _, err := c.Execute(context.Background(), connection.Operation{Kind: connection.KindGet, Bucket: "users"})
    require.ErrorIs(t, err, transport.ErrBadRequest)
    assert.False(t, connection.IsConnectivity(err))
}

func TestConn_CanceledIsNotConnectivity(t *testing.T) {
    _, _, c := startNode(t)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    err := c.Ping(ctx)
    require.Error(t, err)
    assert.True(t, errors.Is(err, context.Canceled))
    assert.Equal(t, connection.OutcomeOther, connection.Classify(err))
}

func TestConn_RetriesIdempotentReads(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) < 3 {
            http.Error(w, "warming up", http.StatusServiceUnavailable)
            return
        }
        _, _ = w.Write([]byte("OK"))
    }))
    defer srv.Close()
    c, err := New(Config{Addr: srv.URL, Retries: 3, Timeout: time.Second})
    require.NoError(t, err)

    require.NoError(t, c.Ping(context.Background()))
    assert.EqualValues(t, 3, calls.Load())
}

func TestConn_WritesAreNotRetried(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        http.Error(w, "busy", http.StatusServiceUnavailable)
    }))
    defer srv.Close()
    c, err := New(Config{Addr: srv.URL, Retries: 3})
    require.NoError(t, err)

    _, err = c.Execute(context.Background(), connection.Operation{Kind: connection.KindPut, Bucket: "b", Key: "k", Value: []byte("v")})
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))
    assert.EqualValues(t, 1, calls.Load())
}

func TestConn_MalformedBodyIsNotConnectivity(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path == "/ping" {
            _, _ = w.Write([]byte("OK"))
            return
        }
        w.Header().Set("Content-Type", "text/html")
        _, _ = w.Write([]byte("<html>proxy</html>"))
    }))
    defer srv.Close()
    c, err := New(Config{Addr: srv.URL, Retries: -1})
    require.NoError(t, err)

    require.NoError(t, c.Ping(context.Background()))
    _, err = c.ListResources(context.Background())
    require.Error(t, err)
    var se *json.SyntaxError
    assert.ErrorAs(t, err, &se)
    assert.False(t, connection.IsConnectivity(err))
    var ce *connection.ConnectivityError
    assert.False(t, errors.As(err, &ce))
}

func TestConn_TruncatedBodyIsConnectivity(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"buckets":["us`))
    }))
    defer srv.Close()
    c, err := New(Config{Addr: srv.URL, Retries: -1})
    require.NoError(t, err)

    _, err = c.ListResources(context.Background())
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err))
}

func TestNew_Defaults(t *testing.T) {
    _, err := New(Config{})
    assert.Error(t, err)

    c, err := New(Config{Addr: "10.0.0.1:8098"})
    require.NoError(t, err)
    assert.Equal(t, "10.0.0.1:8098", c.ID())
    assert.Equal(t, "http://10.0.0.1:8098", c.base)
}
