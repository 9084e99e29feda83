package balancer

import (
    "errors"
    "sync/atomic"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

// ErrNoCandidates is returned when Next is called with an empty list.
var ErrNoCandidates = errors.New("balancer: no candidate connections")

// Selector chooses the connection for the next operation.
type Selector interface {
    Next(candidates []connection.Connection) (connection.Connection, error)
}

// RoundRobin cycles through the candidate list in order. The counter is
// shared across calls and wraps through uint64 overflow, so the index is
// never negative.
type RoundRobin struct {
    n atomic.Uint64
}

// NewRoundRobin returns a selector starting at index 0.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

// Next returns candidates[counter mod len(candidates)] and advances the
// counter. Safe for concurrent use.
func (r *RoundRobin) Next(candidates []connection.Connection) (connection.Connection, error) {
    if len(candidates) == 0 { return nil, ErrNoCandidates }
    i := r.n.Add(1) - 1
    return candidates[i%uint64(len(candidates))], nil
}

var _ Selector = (*RoundRobin)(nil)
