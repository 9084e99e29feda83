package connection

import "context"

// Kind names the key-value operation carried by an Operation.
type Kind string

const (
    KindGet      Kind = "get"
    KindPut      Kind = "put"
    KindDelete   Kind = "delete"
    KindListKeys Kind = "list_keys"
)

// Operation is a single request against one node. The encoding on the wire
// is owned by the Connection implementation.
type Operation struct {
    Kind        Kind   `json:"kind"`
    Bucket      string `json:"bucket"`
    Key         string `json:"key,omitempty"`
    Value       []byte `json:"value,omitempty"`
    ContentType string `json:"contentType,omitempty"`
    // VClock is the causal token of the value being replaced (put/delete).
    VClock      string `json:"vclock,omitempty"`
}

// Result is the decoded reply to an Operation.
type Result struct {
    Found       bool     `json:"found"`
    Value       []byte   `json:"value,omitempty"`
    ContentType string   `json:"contentType,omitempty"`
    VClock      string   `json:"vclock,omitempty"`
    Keys        []string `json:"keys,omitempty"`
}

// Connection is a logical link to one backend node. Implementations must be
// safe for concurrent use. Liveness is not tracked by the connection itself;
// the health registry owns that state.
type Connection interface {
    // ID returns the stable node identifier.
    ID() string
    // Ping is the basic reachability probe.
    Ping(ctx context.Context) error
    // ListResources returns the buckets the node reports. Used as the
    // functional recovery probe.
    ListResources(ctx context.Context) ([]string, error)
    // Execute runs one operation. Transport failures are reported as
    // *ConnectivityError.
    Execute(ctx context.Context, op Operation) (*Result, error)
    // Close releases the underlying transport.
    Close() error
}

// RingReporter is an optional capability of a Connection that can report
// which nodes the backend currently sees in its ring.
type RingReporter interface {
    RingMembers(ctx context.Context) ([]string, error)
}

// IDs returns the identifiers of conns in order.
func IDs(conns []Connection) []string {
    out := make([]string, 0, len(conns))
    for _, c := range conns { out = append(out, c.ID()) }
    return out
}
