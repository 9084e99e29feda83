// Package membership tracks which dev nodes form the ring. The default
// implementation gossips over hashicorp/memberlist; Static serves a fixed
// view for single-node setups and tests.
package membership

import (
    "context"
    "sort"
    "time"
)

// MemberInfo describes a ring member. Meta carries the node's advertised API
// addresses (keys MetaHTTP and MetaGRPC).
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

const (
    MetaHTTP = "http"
    MetaGRPC = "grpc"
)

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left or was declared dead.
    EventLeave EventType = "leave"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the gossip layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// HealthReporter is optionally implemented to expose the gossip awareness
// score. Lower is healthier; -1 means not started.
type HealthReporter interface {
    HealthScore() int
}

// IDs returns the sorted member ids.
func IDs(members []MemberInfo) []string {
    out := make([]string, 0, len(members))
    for _, m := range members { out = append(out, m.ID) }
    sort.Strings(out)
    return out
}

// Static is a Membership with a fixed member list and no network activity.
type Static struct {
    local   MemberInfo
    members []MemberInfo
    evts    chan Event
}

// NewStatic returns a view containing local followed by peers.
func NewStatic(local MemberInfo, peers ...MemberInfo) *Static {
    return &Static{local: local, members: append([]MemberInfo{local}, peers...), evts: make(chan Event)}
}

func (s *Static) Start(context.Context) error { return nil }
func (s *Static) Join([]string) error         { return nil }
func (s *Static) Local() MemberInfo            { return s.local }
func (s *Static) Members() []MemberInfo        { return append([]MemberInfo(nil), s.members...) }
func (s *Static) Events() <-chan Event         { return s.evts }
func (s *Static) Leave() error                 { return nil }
func (s *Static) Stop() error                  { return nil }

var _ Membership = (*Static)(nil)
