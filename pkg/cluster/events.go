package cluster

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    // EventSnapshot is delivered first to every subscriber and carries the
    // partition at subscription time.
    EventSnapshot EventType = "snapshot"
    EventDemoted  EventType = "demoted"
    EventPromoted EventType = "promoted"
)

// Event describes a health partition change. Nodes lists the ids that moved.
type Event struct {
    Type      EventType
    At        time.Time
    Nodes     []string
    Healthy   []string
    Unhealthy []string
}

// Subscribe returns a channel of health events, starting with a snapshot of
// the current partition. The channel is buffered and closed when ctx is done
// or the cluster shuts down. Events may be dropped if the consumer is too
// slow (best-effort delivery) so observers never block routing.
func (c *Cluster) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    if !c.eb.add(ch) {
        close(ch)
        return ch
    }
    go func() {
        select {
        case <-ctx.Done():
        case <-c.eb.done:
        }
        c.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// eventBus is registered as the last health observer. It diffs consecutive
// notifications into demoted/promoted events.
type eventBus struct {
    mu        sync.Mutex
    subs      map[chan Event]struct{}
    healthy   []string
    unhealthy []string
    seeded    bool
    done      chan struct{}
    closed    bool
}

func newEventBus() *eventBus {
    return &eventBus{subs: make(map[chan Event]struct{}), done: make(chan struct{})}
}

func (e *eventBus) OnHealthChange(healthy, unhealthy []string) {
    e.mu.Lock()
    defer e.mu.Unlock()
    prevH, prevU, seeded := e.healthy, e.unhealthy, e.seeded
    e.healthy = append([]string(nil), healthy...)
    e.unhealthy = append([]string(nil), unhealthy...)
    e.seeded = true
    if !seeded { return }
    now := time.Now()
    if moved := added(prevU, unhealthy); len(moved) > 0 {
        e.publish(Event{Type: EventDemoted, At: now, Nodes: moved, Healthy: e.healthy, Unhealthy: e.unhealthy})
    }
    if moved := added(prevH, healthy); len(moved) > 0 {
        e.publish(Event{Type: EventPromoted, At: now, Nodes: moved, Healthy: e.healthy, Unhealthy: e.unhealthy})
    }
}

func (e *eventBus) add(ch chan Event) bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.closed { return false }
    e.subs[ch] = struct{}{}
    ch <- Event{Type: EventSnapshot, At: time.Now(), Healthy: e.healthy, Unhealthy: e.unhealthy}
    return true
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    delete(e.subs, ch)
    e.mu.Unlock()
}

func (e *eventBus) shutdown() {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.closed { return }
    e.closed = true
    close(e.done)
}

// publish must be called with mu held.
func (e *eventBus) publish(ev Event) {
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
}

// added returns ids in next that are not in prev.
func added(prev, next []string) []string {
    seen := make(map[string]struct{}, len(prev))
    for _, id := range prev { seen[id] = struct{}{} }
    var out []string
    for _, id := range next {
        if _, ok := seen[id]; !ok { out = append(out, id) }
    }
    return out
}
