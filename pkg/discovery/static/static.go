package static

import (
    "context"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
)

type staticNodes struct {
    nodes []string
}

func (s *staticNodes) Nodes(context.Context) ([]string, error) {
    if len(s.nodes) == 0 { return nil, discovery.ErrNoNodes }
    return append([]string(nil), s.nodes...), nil
}

// New returns a Discovery that always returns the given addresses.
func New(addrs ...string) discovery.Discovery {
    var cleaned []string
    for _, a := range addrs { cleaned = append(cleaned, discovery.ParseCSV(a)...) }
    return &staticNodes{nodes: discovery.Normalize(cleaned)}
}

// Parse builds a static Discovery from a comma-separated list.
func Parse(csv string) discovery.Discovery { return New(discovery.ParseCSV(csv)...) }
