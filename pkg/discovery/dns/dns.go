package dns

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
    mdns "github.com/miekg/dns"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
)

// DefaultPort is the HTTP API port appended to A/AAAA answers.
const DefaultPort = 8098

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV records or hostnames to resolve.
    // Examples: "_kv._tcp.example.com" (SRV) or "kv1.example.com" (A/AAAA).
    // Entries that already carry a port are passed through.
    Names []string

    // Port used for A/AAAA records (no port info in DNS answer).
    Port int

    // Server is the resolver "host:port". Empty reads /etc/resolv.conf.
    Server  string
    Timeout time.Duration

    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
    Clock   clockwork.Clock
    Logger  *zap.Logger
}

type impl struct {
    opts   Options
    client *mdns.Client
    mu     sync.Mutex
    last   time.Time
    cache  []string
}

// New returns a DNS-backed discovery that resolves SRV and A/AAAA names
// and caches results for the Refresh duration.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = DefaultPort }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Clock == nil { opts.Clock = clockwork.NewRealClock() }
    opts.Logger = logutil.OrNop(opts.Logger)
    return &impl{opts: opts, client: &mdns.Client{Timeout: opts.Timeout}}
}

func (d *impl) Nodes(ctx context.Context) ([]string, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    now := d.opts.Clock.Now()
    if len(d.cache) > 0 && now.Sub(d.last) < d.opts.Refresh {
        return append([]string(nil), d.cache...), nil
    }
    server, err := d.server()
    if err != nil { return nil, err }
    res, err := d.resolveAll(ctx, server)
    if err != nil { return nil, err }
    if len(res) == 0 { return nil, discovery.ErrNoNodes }
    d.cache, d.last = res, now
    return append([]string(nil), d.cache...), nil
}

func (d *impl) server() (string, error) {
    if d.opts.Server != "" { return d.opts.Server, nil }
    cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
    if err != nil { return "", fmt.Errorf("discovery: resolver config: %w", err) }
    if len(cfg.Servers) == 0 { return "", errors.New("discovery: no resolvers configured") }
    return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
}

func (d *impl) resolveAll(ctx context.Context, server string) ([]string, error) {
    var out []string
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        if _, _, err := net.SplitHostPort(name); err == nil {
            out = append(out, name)
            continue
        }
        if isSRVName(name) {
            recs, err := d.lookupSRV(ctx, server, name)
            if err != nil { return nil, err }
            if len(recs) > 0 {
                out = append(out, recs...)
                continue
            }
        }
        hosts, err := d.lookupHost(ctx, server, name)
        if err != nil { return nil, err }
        if len(hosts) == 0 { logutil.Warnf(d.opts.Logger, "dns: %s resolved to nothing", name) }
        out = append(out, hosts...)
    }
    return discovery.Normalize(out), nil
}

func (d *impl) lookupSRV(ctx context.Context, server, name string) ([]string, error) {
    in, err := d.query(ctx, server, name, mdns.TypeSRV)
    if err != nil { return nil, err }
    // Prefer glue addresses for SRV targets.
    glue := make(map[string]string)
    for _, rr := range in.Extra {
        switch r := rr.(type) {
        case *mdns.A:
            glue[r.Hdr.Name] = r.A.String()
        case *mdns.AAAA:
            if _, ok := glue[r.Hdr.Name]; !ok { glue[r.Hdr.Name] = r.AAAA.String() }
        }
    }
    var out []string
    for _, rr := range in.Answer {
        srv, ok := rr.(*mdns.SRV)
        if !ok { continue }
        host, ok := glue[srv.Target]
        if !ok { host = strings.TrimSuffix(srv.Target, ".") }
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
    }
    return out, nil
}

func (d *impl) lookupHost(ctx context.Context, server, host string) ([]string, error) {
    port := strconv.Itoa(d.opts.Port)
    var out []string
    for _, qt := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
        in, err := d.query(ctx, server, host, qt)
        if err != nil { return nil, err }
        for _, rr := range in.Answer {
            switch r := rr.(type) {
            case *mdns.A:
                out = append(out, net.JoinHostPort(r.A.String(), port))
            case *mdns.AAAA:
                out = append(out, net.JoinHostPort(r.AAAA.String(), port))
            }
        }
    }
    return out, nil
}

func (d *impl) query(ctx context.Context, server, name string, qtype uint16) (*mdns.Msg, error) {
    m := new(mdns.Msg)
    m.SetQuestion(mdns.Fqdn(name), qtype)
    in, _, err := d.client.ExchangeContext(ctx, m, server)
    if err != nil { return nil, fmt.Errorf("discovery: query %s %s: %w", mdns.TypeToString[qtype], name, err) }
    switch in.Rcode {
    case mdns.RcodeSuccess, mdns.RcodeNameError:
        return in, nil
    }
    return nil, fmt.Errorf("discovery: query %s %s: %s", mdns.TypeToString[qtype], name, mdns.RcodeToString[in.Rcode])
}

func isSRVName(name string) bool {
    svc, proto, domain := parseSRVName(name)
    return svc != "" && proto != "" && domain != ""
}

func parseSRVName(fqdn string) (service, proto, name string) {
    // Expect pattern: _service._proto.name
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
