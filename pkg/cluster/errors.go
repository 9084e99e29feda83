package cluster

import (
    "errors"
    "fmt"

    "github.com/amirimatin/go-kvcluster/pkg/health"
)

var (
    ErrConstruction   = health.ErrConstruction
    ErrClosed         = health.ErrClosed
    ErrNoHealthyNodes = health.ErrNoHealthyNodes
)

// TaskError wraps a task failure that is not a connectivity problem. Such
// failures never affect node health.
type TaskError struct {
    Node string
    Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("cluster: task on %s: %v", e.Node, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// Cause returns the first error in the TaskError chain of err that matches
// type E.
func Cause[E error](err error) (E, bool) {
    var zero E
    var te *TaskError
    if !errors.As(err, &te) { return zero, false }
    var target E
    if errors.As(te.Err, &target) { return target, true }
    return zero, false
}
