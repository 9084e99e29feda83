package health

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

// RecoveryCheck decides whether a connection that answers Ping is ready to
// serve traffic again. A nil error means ready.
type RecoveryCheck func(ctx context.Context, conn connection.Connection) error

// HasResources passes when the node lists at least one bucket. A node that
// restarted with an empty data directory answers pings long before it can
// serve reads.
func HasResources(ctx context.Context, conn connection.Connection) error {
    res, err := conn.ListResources(ctx)
    if err != nil { return err }
    if len(res) == 0 { return ErrNoResources }
    return nil
}

// RingReady passes when the node sees at least min ring members. Connections
// that do not implement connection.RingReporter pass unconditionally.
func RingReady(min int) RecoveryCheck {
    return func(ctx context.Context, conn connection.Connection) error {
        rr, ok := conn.(connection.RingReporter)
        if !ok { return nil }
        members, err := rr.RingMembers(ctx)
        if err != nil { return err }
        if len(members) < min {
            return fmt.Errorf("%w: %d < %d", ErrRingNotReady, len(members), min)
        }
        return nil
    }
}

// AllOf passes when every check passes, evaluated in order.
func AllOf(checks ...RecoveryCheck) RecoveryCheck {
    return func(ctx context.Context, conn connection.Connection) error {
        for _, chk := range checks {
            if chk == nil { continue }
            if err := chk(ctx, conn); err != nil { return err }
        }
        return nil
    }
}
