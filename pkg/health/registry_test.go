package health

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/goleak"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/connection/conntest"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func newRegistry(t *testing.T, rec *conntest.Recorder, conns ...*conntest.Conn) *Registry {
    t.Helper()
    opts := RegistryOptions{}
    if rec != nil { opts.Observers = []Observer{rec} }
    r, err := NewRegistry(context.Background(), conntest.Conns(conns...), opts)
    require.NoError(t, err)
    return r
}

func ids(conns []connection.Connection) []string { return connection.IDs(conns) }

func failOnA(ctx context.Context, conn connection.Connection) error {
    if conn.ID() == "A" { return connection.Unreachable("A", "get", errors.New("reset by peer")) }
    return nil
}

func TestNewRegistry_AllHealthy(t *testing.T) {
    rec := &conntest.Recorder{}
    r := newRegistry(t, rec, conntest.New("A"), conntest.New("B"))

    assert.Equal(t, []string{"A", "B"}, ids(r.Healthy()))
    assert.Empty(t, r.Unhealthy())
    require.Len(t, rec.Events(), 1)
    assert.Equal(t, [2][]string{{"A", "B"}, nil}, rec.Events()[0])
}

func TestNewRegistry_PartitionsByInitialProbe(t *testing.T) {
    rec := &conntest.Recorder{}
    r := newRegistry(t, rec, conntest.New("A"), conntest.New("B").SetDown(true), conntest.New("C"))

    assert.Equal(t, []string{"A", "C"}, ids(r.Healthy()))
    assert.Equal(t, []string{"B"}, ids(r.Unhealthy()))
    h, u, ok := rec.Last()
    require.True(t, ok)
    assert.Equal(t, []string{"A", "C"}, h)
    assert.Equal(t, []string{"B"}, u)
}

func TestNewRegistry_BelowThreshold(t *testing.T) {
    rec := &conntest.Recorder{}
    conns := conntest.Conns(conntest.New("A"), conntest.New("B").SetDown(true))
    r, err := NewRegistry(context.Background(), conns, RegistryOptions{ExpectedSize: 4, Observers: []Observer{rec}})
    require.ErrorIs(t, err, ErrConstruction)
    assert.Nil(t, r)
    assert.Empty(t, rec.Events())
}

func TestNewRegistry_ExactlyHalfIsEnough(t *testing.T) {
    conns := conntest.Conns(conntest.New("A"), conntest.New("B").SetDown(true))
    _, err := NewRegistry(context.Background(), conns, RegistryOptions{})
    require.NoError(t, err)
}

func TestNewRegistry_RejectsBadIDs(t *testing.T) {
    _, err := NewRegistry(context.Background(), nil, RegistryOptions{})
    assert.ErrorIs(t, err, ErrNoConnections)

    _, err = NewRegistry(context.Background(), conntest.Conns(conntest.New("A"), conntest.New("A")), RegistryOptions{})
    assert.ErrorIs(t, err, ErrDuplicateID)

    _, err = NewRegistry(context.Background(), conntest.Conns(conntest.New("")), RegistryOptions{})
    assert.ErrorIs(t, err, ErrEmptyID)

    _, err = NewRegistry(context.Background(), conntest.Conns(conntest.New("A")), RegistryOptions{MinHealthyRatio: 1.5})
    assert.Error(t, err)
}

func TestExecute_ConnectivityFailureDemotes(t *testing.T) {
    rec := &conntest.Recorder{}
    a, b := conntest.New("A"), conntest.New("B")
    r := newRegistry(t, rec, a, b)
    a.SetDown(true)

    err := r.Execute(context.Background(), failOnA)
    require.Error(t, err)
    assert.True(t, connection.IsConnectivity(err), "original error returned unchanged")

    assert.Equal(t, []string{"B"}, ids(r.Healthy()))
    assert.Equal(t, []string{"A"}, ids(r.Unhealthy()))
    h, u, _ := rec.Last()
    assert.Equal(t, []string{"B"}, h)
    assert.Equal(t, []string{"A"}, u)
    assert.Len(t, rec.Events(), 2)
}

func TestExecute_TransientFailureKeepsNode(t *testing.T) {
    rec := &conntest.Recorder{}
    r := newRegistry(t, rec, conntest.New("A"), conntest.New("B"))

    err := r.Execute(context.Background(), failOnA)
    require.Error(t, err)

    assert.Equal(t, []string{"A", "B"}, ids(r.Healthy()))
    assert.Empty(t, r.Unhealthy())
    assert.Len(t, rec.Events(), 1, "no notification beyond the initial one")
}

func TestExecute_OtherErrorHasNoHealthEffect(t *testing.T) {
    a := conntest.New("A")
    r := newRegistry(t, nil, a, conntest.New("B"))
    boom := errors.New("bad request")
    pings := a.Pings()

    err := r.Execute(context.Background(), func(context.Context, connection.Connection) error { return boom })
    assert.ErrorIs(t, err, boom)
    assert.Equal(t, pings, a.Pings(), "no probe for non-connectivity errors")
    assert.Len(t, r.Healthy(), 2)
}

func TestExecute_CanceledContextNeverDemotes(t *testing.T) {
    a := conntest.New("A")
    r := newRegistry(t, nil, a, conntest.New("B"))
    a.SetDown(true)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()

    err := r.Execute(ctx, func(ctx context.Context, _ connection.Connection) error { return ctx.Err() })
    assert.ErrorIs(t, err, context.Canceled)
    assert.Len(t, r.Healthy(), 2)
}

func hangUntilDone(ctx context.Context, _ connection.Operation) (*connection.Result, error) {
    <-ctx.Done()
    return nil, ctx.Err()
}

func runOp(ctx context.Context, conn connection.Connection) error {
    _, err := conn.Execute(ctx, connection.Operation{Kind: connection.KindGet, Bucket: "b", Key: "k"})
    return err
}

func TestExecute_CallerDeadlineOnHungNodeDemotes(t *testing.T) {
    rec := &conntest.Recorder{}
    a, b := conntest.New("A"), conntest.New("B")
    r := newRegistry(t, rec, a, b)
    a.OnExecute(hangUntilDone).SetPingErr(connection.Unreachable("A", "ping", context.DeadlineExceeded))

    var failed int
    for i := 0; i < 4; i++ {
        ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
        if err := r.Execute(ctx, runOp); err != nil {
            assert.ErrorIs(t, err, context.DeadlineExceeded)
            failed++
        }
        cancel()
    }

    assert.Equal(t, 1, failed, "only the first call reaches the hung node")
    assert.Equal(t, []string{"B"}, ids(r.Healthy()))
    assert.Equal(t, []string{"A"}, ids(r.Unhealthy()))
    assert.Equal(t, 1, a.Execs())
    h, u, _ := rec.Last()
    assert.Equal(t, []string{"B"}, h)
    assert.Equal(t, []string{"A"}, u)
}

func TestExecute_CallerDeadlineOnSlowNodeKeepsIt(t *testing.T) {
    a := conntest.New("A").OnExecute(hangUntilDone)
    r := newRegistry(t, nil, a, conntest.New("B"))
    pings := a.Pings()

    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    err := r.Execute(ctx, runOp)
    require.ErrorIs(t, err, context.DeadlineExceeded)

    assert.Equal(t, pings+1, a.Pings(), "answered probe keeps the node")
    assert.Equal(t, []string{"A", "B"}, ids(r.Healthy()))
}

func TestExecute_NoHealthyNodes(t *testing.T) {
    a := conntest.New("A")
    r := newRegistry(t, nil, a)
    a.SetDown(true)
    require.True(t, r.Demote(context.Background(), a))

    err := r.Execute(context.Background(), func(context.Context, connection.Connection) error { return nil })
    assert.ErrorIs(t, err, ErrNoHealthyNodes)
}

func TestExecute_PanicPropagates(t *testing.T) {
    r := newRegistry(t, nil, conntest.New("A"))
    assert.Panics(t, func() {
        _ = r.Execute(context.Background(), func(context.Context, connection.Connection) error { panic("task bug") })
    })
    assert.Len(t, r.Healthy(), 1)
}

func TestDemote_Idempotent(t *testing.T) {
    rec := &conntest.Recorder{}
    a := conntest.New("A")
    r := newRegistry(t, rec, a, conntest.New("B"))
    a.SetDown(true)

    assert.True(t, r.Demote(context.Background(), a))
    assert.False(t, r.Demote(context.Background(), a))
    assert.Equal(t, []string{"A"}, ids(r.Unhealthy()))
    assert.Len(t, rec.Events(), 2)
}

func TestDemote_ConcurrentSingleTransition(t *testing.T) {
    rec := &conntest.Recorder{}
    a := conntest.New("A")
    r := newRegistry(t, rec, a, conntest.New("B"), conntest.New("C"))
    a.SetDown(true)

    var wg sync.WaitGroup
    var mu sync.Mutex
    wins := 0
    for i := 0; i < 16; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if r.Demote(context.Background(), a) {
                mu.Lock(); wins++; mu.Unlock()
            }
        }()
    }
    wg.Wait()
    assert.Equal(t, 1, wins)
    assert.Equal(t, []string{"A"}, ids(r.Unhealthy()))
    assert.Equal(t, []string{"B", "C"}, ids(r.Healthy()))
    assert.Len(t, rec.Events(), 2)
}

func TestPromote_BatchSingleNotification(t *testing.T) {
    rec := &conntest.Recorder{}
    a, b, c := conntest.New("A"), conntest.New("B"), conntest.New("C")
    r := newRegistry(t, rec, a, b, c)
    a.SetDown(true)
    b.SetDown(true)
    require.True(t, r.Demote(context.Background(), a))
    require.True(t, r.Demote(context.Background(), b))
    before := len(rec.Events())

    moved := r.Promote(conntest.Conns(a, b))
    assert.Equal(t, []string{"A", "B"}, moved)
    assert.Equal(t, []string{"C", "A", "B"}, ids(r.Healthy()))
    assert.Empty(t, r.Unhealthy())
    assert.Len(t, rec.Events(), before+1)

    assert.Nil(t, r.Promote(conntest.Conns(a)), "already healthy")
    assert.Len(t, rec.Events(), before+1)
}

type notification struct {
    observer  int
    healthy   []string
    unhealthy []string
}

func TestObservers_NotifiedInRegistrationOrder(t *testing.T) {
    var mu sync.Mutex
    var got []notification
    observer := func(i int) Observer {
        return ObserverFunc(func(h, u []string) {
            mu.Lock(); defer mu.Unlock()
            got = append(got, notification{i, append([]string(nil), h...), append([]string(nil), u...)})
        })
    }
    a, b := conntest.New("A"), conntest.New("B")
    r, err := NewRegistry(context.Background(), conntest.Conns(a, b), RegistryOptions{
        Observers: []Observer{observer(0), observer(1), observer(2)},
    })
    require.NoError(t, err)

    a.SetDown(true)
    require.True(t, r.Demote(context.Background(), a))
    a.SetDown(false)
    require.Equal(t, []string{"A"}, r.Promote(conntest.Conns(a)))

    var want []notification
    for _, step := range [][2][]string{{{"A", "B"}, nil}, {{"B"}, {"A"}}, {{"B", "A"}, nil}} {
        for i := 0; i < 3; i++ { want = append(want, notification{i, step[0], step[1]}) }
    }
    mu.Lock(); defer mu.Unlock()
    assert.Equal(t, want, got)
}

func TestPartitionInvariantUnderChurn(t *testing.T) {
    nodes := []*conntest.Conn{conntest.New("A"), conntest.New("B"), conntest.New("C"), conntest.New("D")}
    r := newRegistry(t, nil, nodes...)
    for _, n := range nodes { n.SetDown(true) }

    var wg sync.WaitGroup
    for i := 0; i < 40; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            n := nodes[i%len(nodes)]
            if i%2 == 0 {
                r.Demote(context.Background(), n)
            } else {
                r.Promote(conntest.Conns(n))
            }
        }(i)
    }
    wg.Wait()

    seen := map[string]int{}
    for _, c := range r.Healthy() { seen[c.ID()]++ }
    for _, c := range r.Unhealthy() { seen[c.ID()]++ }
    require.Len(t, seen, len(nodes))
    for id, n := range seen { assert.Equal(t, 1, n, "node %s", id) }
}

func TestClose_ClosesAllAndIsIdempotent(t *testing.T) {
    a, b := conntest.New("A"), conntest.New("B")
    r := newRegistry(t, nil, a, b)
    b.SetDown(true)
    r.Demote(context.Background(), b)

    require.NoError(t, r.Close())
    require.NoError(t, r.Close())
    assert.True(t, a.Closed())
    assert.True(t, b.Closed())
    assert.True(t, r.Closed())

    err := r.Execute(context.Background(), func(context.Context, connection.Connection) error { return nil })
    assert.ErrorIs(t, err, ErrClosed)
    assert.False(t, r.Demote(context.Background(), a))
}
