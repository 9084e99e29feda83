package cluster

import (
    "errors"
    "fmt"
    "time"

    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/balancer"
    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/health"
)

// Options carries the connections and tuning used to assemble the cluster
// facade. Instances are typically produced by bootstrap.Build.
type Options struct {
    // Name labels this cluster's metrics. Clusters sharing a process need
    // distinct names. Empty means "default".
    Name string

    // Connections to every configured node. The cluster owns them once New
    // succeeds and closes them on Shutdown.
    Connections []connection.Connection

    // MinHealthyRatio is the share of ExpectedSize that must answer the
    // initial probe. Zero means 0.5.
    MinHealthyRatio float64
    // ExpectedSize is the nominal cluster size. Zero means len(Connections).
    ExpectedSize int

    // RecoveryInterval is the delay between recovery runs. Zero means 5s.
    RecoveryInterval time.Duration
    // RecoveryCheck decides readiness of a node that answers Ping again.
    // Nil means health.HasResources.
    RecoveryCheck health.RecoveryCheck
    // OnRecoveryError receives unexpected failures inside a recovery run.
    OnRecoveryError func(error)

    // Selector picks the connection per task. Nil means round robin.
    Selector balancer.Selector
    // Observers are notified of every health change in order.
    Observers []health.Observer

    Logger *zap.Logger
    Clock  clockwork.Clock

    // CloseOnError closes Connections when New fails.
    CloseOnError bool
}

// Validate performs a minimal validation of Options. It does not touch the
// network and is safe to call before New.
func (o Options) Validate() error {
    if len(o.Connections) == 0 {
        return errors.New("cluster: no connections")
    }
    for i, c := range o.Connections {
        if c == nil { return fmt.Errorf("cluster: nil connection at index %d", i) }
    }
    if o.MinHealthyRatio < 0 || o.MinHealthyRatio > 1 {
        return fmt.Errorf("cluster: MinHealthyRatio %v out of range [0,1]", o.MinHealthyRatio)
    }
    if o.ExpectedSize < 0 {
        return errors.New("cluster: negative ExpectedSize")
    }
    if o.RecoveryInterval < 0 {
        return errors.New("cluster: negative RecoveryInterval")
    }
    return nil
}
