package cluster

import (
    "context"
    "time"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    obsmetrics "github.com/amirimatin/go-kvcluster/pkg/observability/metrics"
    "github.com/amirimatin/go-kvcluster/pkg/observability/tracing"
)

// Task computes a T using one node connection.
type Task[T any] func(ctx context.Context, conn connection.Connection) (T, error)

// Execute runs task on the next healthy connection of c.
//
// A connectivity failure demotes the node when a confirming probe also
// fails, and the error is returned unchanged. Any other failure is returned
// as *TaskError without touching node health. Panics in task propagate.
// There is no retry: callers that want failover simply call again.
func Execute[T any](ctx context.Context, c *Cluster, task Task[T]) (res T, err error) {
    ctx, span := tracing.StartSpan(ctx, "cluster.execute")
    defer func() { tracing.End(span, err) }()

    var node string
    var start time.Time
    err = c.reg.Execute(ctx, func(ctx context.Context, conn connection.Connection) error {
        node = conn.ID()
        span.SetAttributes(tracing.AttrNode.String(node))
        start = time.Now()
        v, terr := task(ctx, conn)
        if terr == nil {
            res = v
            return nil
        }
        if connection.IsConnectivity(terr) { return terr }
        return &TaskError{Node: node, Err: terr}
    })
    if node != "" {
        obsmetrics.TaskDuration.WithLabelValues(node).Observe(time.Since(start).Seconds())
    }
    obsmetrics.Tasks.WithLabelValues(connection.Classify(err).String()).Inc()
    if err != nil {
        var zero T
        return zero, err
    }
    return res, nil
}
