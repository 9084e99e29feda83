package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    base "github.com/amirimatin/go-kvcluster/pkg/membership"
)

// Options configures the memberlist-based ring.
type Options struct {
    NodeID string
    // Bind is host:port for gossip (e.g. ":7946"). Port 0 picks a free port.
    Bind string
    // Advertise is the host:port peers use to reach this node. Derived from
    // Bind when empty.
    Advertise string
    // Meta is gossiped with the node, typically its API addresses.
    Meta   map[string]string
    Logger *zap.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// impl implements base.Membership using HashiCorp memberlist.
type impl struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    evts   chan base.Event
    closed bool
}

// New constructs a memberlist-backed membership. Start launches gossip.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("memberlist: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    opts.Logger = logutil.OrNop(opts.Logger)
    return &impl{opts: opts, evts: make(chan base.Event, 64)}, nil
}

func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil || m.closed {
        return nil
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }
    cfg.Logger = zap.NewStdLog(m.opts.Logger.Named("memberlist"))

    cfg.Events = &eventDelegate{emit: m.emit}
    metaBytes, err := json.Marshal(m.opts.Meta)
    if err != nil { return fmt.Errorf("memberlist: encode meta: %w", err) }
    cfg.Delegate = &nodeDelegate{meta: metaBytes}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    m.ml = ml
    logutil.Infof(m.opts.Logger, "gossip started for %s on %s", m.opts.NodeID, m.localAddrLocked())

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    n, err := ml.Join(seeds)
    if err != nil { return fmt.Errorf("memberlist: join %v: %w", seeds, err) }
    logutil.Debugf(m.opts.Logger, "gossip joined %d of %d seeds", n, len(seeds))
    return nil
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return base.MemberInfo{}
    }
    return toInfo(m.ml.LocalNode())
}

func (m *impl) localAddrLocked() string {
    n := m.ml.LocalNode()
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return nil
    }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, toInfo(n)) }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return nil
    }
    // best-effort: leave and give some time to broadcast
    return ml.Leave(time.Second)
}

func (m *impl) Stop() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        return nil
    }
    m.closed = true
    if m.ml != nil {
        _ = m.ml.Shutdown()
        m.ml = nil
    }
    close(m.evts)
    return nil
}

// HealthScore exposes memberlist's awareness score.
func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return -1
    }
    return m.ml.GetHealthScore()
}

var (
    _ base.Membership     = (*impl)(nil)
    _ base.HealthReporter = (*impl)(nil)
)

// eventDelegate adapts memberlist events to base.Event.
type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) { d.send(base.EventJoin, n) }

// memberlist conflates explicit leave and failure.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) { d.send(base.EventLeave, n) }

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.send(base.EventJoin, n) }

func (d *eventDelegate) send(t base.EventType, n *memberlist.Node) {
    if d.emit == nil || n == nil { return }
    d.emit(base.Event{Type: t, Member: toInfo(n), At: time.Now()})
}

func (m *impl) emit(e base.Event) {
    // memberlist may deliver a late event after Stop closed the channel
    defer func() { _ = recover() }()
    select {
    case m.evts <- e:
    default:
        logutil.Debugf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func splitHostPort(addr string) (string, int, error) {
    host, ps, err := net.SplitHostPort(addr)
    if err != nil {
        return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err)
    }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 {
        return "", 0, fmt.Errorf("memberlist: invalid port %q", ps)
    }
    return host, p, nil
}

// nodeDelegate propagates node metadata (API addresses).
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    if limit <= 0 { return nil }
    return d.meta[:limit]
}

// Unused hooks; required to satisfy the interface.
func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
