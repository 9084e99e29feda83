package connection

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "syscall"
)

// ErrNotFound is returned by Execute for a get on a missing key when the
// implementation prefers an error over Result.Found=false.
var ErrNotFound = errors.New("connection: not found")

// ConnectivityError reports that a node could not be reached or that the
// transport failed mid-operation. It is the only error class that makes the
// health registry consider demoting a connection.
type ConnectivityError struct {
    Node string
    Op   string
    Err  error
}

func (e *ConnectivityError) Error() string {
    if e.Op == "" { return fmt.Sprintf("connection %s: %v", e.Node, e.Err) }
    return fmt.Sprintf("connection %s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Unreachable wraps err as a ConnectivityError for node and op. A nil err
// yields nil.
func Unreachable(node, op string, err error) error {
    if err == nil { return nil }
    var ce *ConnectivityError
    if errors.As(err, &ce) { return err }
    return &ConnectivityError{Node: node, Op: op, Err: err}
}

// Outcome is the classification of a finished operation.
type Outcome int

const (
    OutcomeOK Outcome = iota
    OutcomeConnectivity
    OutcomeOther
)

func (o Outcome) String() string {
    switch o {
    case OutcomeOK:
        return "ok"
    case OutcomeConnectivity:
        return "connectivity"
    default:
        return "other"
    }
}

// Classify maps err to an Outcome. Context cancellation and deadlines are
// the caller's doing and never count as connectivity failures.
func Classify(err error) Outcome {
    if err == nil { return OutcomeOK }
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
        return OutcomeOther
    }
    var ce *ConnectivityError
    if errors.As(err, &ce) { return OutcomeConnectivity }
    var ne net.Error
    if errors.As(err, &ne) { return OutcomeConnectivity }
    if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
        errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
        errors.Is(err, net.ErrClosed) {
        return OutcomeConnectivity
    }
    return OutcomeOther
}

// IsConnectivity reports whether err classifies as a connectivity failure.
func IsConnectivity(err error) bool { return Classify(err) == OutcomeConnectivity }
