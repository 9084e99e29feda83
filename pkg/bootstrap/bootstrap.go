// Package bootstrap assembles a cluster.Cluster from a config.Config:
// discovery, TLS, one connection per node and the health observers.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/cluster"
    "github.com/amirimatin/go-kvcluster/pkg/config"
    "github.com/amirimatin/go-kvcluster/pkg/connection"
    grpcconn "github.com/amirimatin/go-kvcluster/pkg/connection/grpc"
    httpconn "github.com/amirimatin/go-kvcluster/pkg/connection/httpjson"
    "github.com/amirimatin/go-kvcluster/pkg/discovery"
    dDNS "github.com/amirimatin/go-kvcluster/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-kvcluster/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-kvcluster/pkg/discovery/static"
    "github.com/amirimatin/go-kvcluster/pkg/health"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
)

// Config couples the file configuration with runtime pieces that cannot be
// expressed in YAML.
type Config struct {
    config.Config

    // Logger (optional). If nil, one is built from Log settings.
    Logger *zap.Logger
    Clock  clockwork.Clock

    // Observers are appended after the metrics observer.
    Observers       []health.Observer
    OnRecoveryError func(error)
}

// Discovery returns the node source described by cfg.
func Discovery(cfg config.Config, logger *zap.Logger) discovery.Discovery {
    d := cfg.Discovery
    switch d.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{Names: d.Names, Port: d.Port, Server: d.Server, Refresh: d.Refresh, Timeout: cfg.Timeout, Logger: logger})
    case "file":
        return dFile.New(dFile.Options{Path: d.File, Env: d.Env, Refresh: d.Refresh})
    default:
        return dStatic.New(cfg.Nodes...)
    }
}

// Connections creates one connection per node address for the configured
// protocol. Node addresses double as connection IDs. Nothing is dialed.
func Connections(cfg config.Config, nodes []string) ([]connection.Connection, error) {
    tlsCfg, err := cfg.TLS.Client()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }
    conns := make([]connection.Connection, 0, len(nodes))
    for _, addr := range nodes {
        c, err := newConn(cfg, addr, tlsCfg)
        if err != nil {
            for _, c := range conns { _ = c.Close() }
            return nil, fmt.Errorf("bootstrap: connection %s: %w", addr, err)
        }
        conns = append(conns, c)
    }
    return conns, nil
}

func newConn(cfg config.Config, addr string, tlsCfg *tls.Config) (connection.Connection, error) {
    switch cfg.Protocol {
    case config.ProtoGRPC:
        return grpcconn.New(grpcconn.Config{ID: addr, Addr: addr, Timeout: cfg.Timeout, TLS: tlsCfg})
    default:
        return httpconn.New(httpconn.Config{ID: addr, Addr: addr, Timeout: cfg.Timeout, TLS: tlsCfg, Retries: cfg.Retries})
    }
}

// RecoveryCheck returns the readiness predicate for cfg.
func RecoveryCheck(cfg config.Config) health.RecoveryCheck {
    if cfg.RingMin > 0 { return health.AllOf(health.HasResources, health.RingReady(cfg.RingMin)) }
    return health.HasResources
}

// Build resolves the node list, opens connections and constructs the
// cluster. Connections are closed again when construction fails.
func Build(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    logger := cfg.Logger
    if logger == nil {
        if cfg.Log.JSON { logutil.SetJSON(true) }
        l, err := logutil.New(cfg.Log.Debug)
        if err != nil { return nil, fmt.Errorf("bootstrap: logger: %w", err) }
        logger = l
    }

    dctx, cancel := context.WithTimeout(ctx, max(cfg.Timeout, time.Second))
    nodes, err := Discovery(cfg.Config, logger).Nodes(dctx)
    cancel()
    if err != nil { return nil, fmt.Errorf("bootstrap: discover nodes: %w", err) }
    logutil.Infof(logger, "discovered %d nodes: %v", len(nodes), nodes)

    conns, err := Connections(cfg.Config, nodes)
    if err != nil { return nil, err }

    return cluster.New(ctx, cluster.Options{
        Name:             cfg.Name,
        Connections:      conns,
        MinHealthyRatio:  cfg.MinHealthyRatio,
        ExpectedSize:     cfg.ExpectedSize,
        RecoveryInterval: cfg.RecoveryInterval,
        RecoveryCheck:    RecoveryCheck(cfg.Config),
        OnRecoveryError:  cfg.OnRecoveryError,
        Observers:        cfg.Observers,
        Logger:           logger,
        Clock:            cfg.Clock,
        CloseOnError:     true,
    })
}
