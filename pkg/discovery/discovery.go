// Package discovery resolves the list of database node addresses a client
// connects to.
package discovery

import (
    "context"
    "errors"
    "sort"
    "strings"
)

// ErrNoNodes is returned when a source resolves to an empty node list.
var ErrNoNodes = errors.New("discovery: no nodes")

// Discovery abstracts where node addresses come from. Implementations
// return a sorted, de-duplicated list.
type Discovery interface {
    Nodes(ctx context.Context) ([]string, error)
}

// Func adapts a function to Discovery.
type Func func(ctx context.Context) ([]string, error)

func (f Func) Nodes(ctx context.Context) ([]string, error) { return f(ctx) }

// ParseCSV splits a comma-separated list, trimming blanks.
func ParseCSV(csv string) []string {
    if csv == "" { return nil }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

// Normalize de-duplicates and sorts addrs in place.
func Normalize(addrs []string) []string {
    if len(addrs) == 0 { return nil }
    sort.Strings(addrs)
    out := addrs[:1]
    for _, a := range addrs[1:] {
        if a != out[len(out)-1] { out = append(out, a) }
    }
    return out
}
