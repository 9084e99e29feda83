// Package cli provides the cobra commands behind kvctl. Services embedding
// the client can attach the same commands to their own root.
package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "strings"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-kvcluster/pkg/bootstrap"
    "github.com/amirimatin/go-kvcluster/pkg/cluster"
    "github.com/amirimatin/go-kvcluster/pkg/config"
    "github.com/amirimatin/go-kvcluster/pkg/discovery"
    tracing "github.com/amirimatin/go-kvcluster/pkg/observability/tracing"
)

// globals are the persistent flags shared by every client command.
type globals struct {
    config  string
    nodes   string
    proto   string
    timeout time.Duration
    trace   bool
    logJSON bool
    debug   bool
}

// AddAll attaches the client commands (status/ping/buckets/keys/get/put/
// delete) and the node command to root, along with the global flags.
func AddAll(root *cobra.Command) {
    g := &globals{}
    pf := root.PersistentFlags()
    pf.StringVar(&g.config, "config", "", "path to a YAML config file")
    pf.StringVar(&g.nodes, "nodes", "", "comma-separated node addresses (host:port); overrides config")
    pf.StringVar(&g.proto, "proto", "", "node protocol: http|grpc (default from config, else http)")
    pf.DurationVar(&g.timeout, "timeout", 0, "per-request timeout (default from config)")
    pf.BoolVar(&g.trace, "trace", false, "enable OpenTelemetry stdout tracing to stderr (dev)")
    pf.BoolVar(&g.logJSON, "log-json", false, "emit JSON logs")
    pf.BoolVar(&g.debug, "debug", false, "enable debug logs")

    root.AddCommand(newStatusCmd(g))
    root.AddCommand(newPingCmd(g))
    root.AddCommand(newBucketsCmd(g))
    root.AddCommand(newKeysCmd(g))
    root.AddCommand(newGetCmd(g))
    root.AddCommand(newPutCmd(g))
    root.AddCommand(newDeleteCmd(g))
    root.AddCommand(NewNodeCommand())
}

// load reads the config file and applies flag overrides on top of the
// environment overrides.
func (g *globals) load() (config.Config, error) {
    cfg, err := config.Read(g.config)
    if err != nil { return cfg, err }
    if g.nodes != "" {
        cfg.Nodes = discovery.ParseCSV(g.nodes)
        cfg.Discovery.Kind = ""
    }
    if g.proto != "" { cfg.Protocol = strings.ToLower(g.proto) }
    if g.timeout > 0 { cfg.Timeout = g.timeout }
    if g.logJSON { cfg.Log.JSON = true }
    if g.debug { cfg.Log.Debug = true }
    if g.trace { cfg.Trace = true }
    return cfg, cfg.Validate()
}

// withCluster builds a cluster for the duration of fn.
func (g *globals) withCluster(cmd *cobra.Command, fn func(ctx context.Context, c *cluster.Cluster) error) error {
    cfg, err := g.load()
    if err != nil { return err }
    if cfg.Trace {
        shutdown, err := tracing.Setup(true, cmd.ErrOrStderr())
        if err != nil { return fmt.Errorf("tracing setup: %w", err) }
        defer func() { _ = shutdown(context.Background()) }()
    }
    ctx := cmd.Context()
    if ctx == nil { ctx = context.Background() }
    c, err := bootstrap.Build(ctx, bootstrap.Config{Config: cfg})
    if err != nil { return err }
    defer c.Shutdown(context.Background())
    return fn(ctx, c)
}

func printJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func newStatusCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "status",
        Short: "Probe the configured nodes and print the health partition as JSON",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                return printJSON(cmd.OutOrStdout(), c.Status())
            })
        },
    }
}

// pingResult is one line of "ping" output.
type pingResult struct {
    Node    string `json:"node"`
    OK      bool   `json:"ok"`
    Latency string `json:"latency"`
    Error   string `json:"error,omitempty"`
}

func newPingCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "ping",
        Short: "Ping every configured node directly, bypassing health routing",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := g.load()
            if err != nil { return err }
            ctx := cmd.Context()
            if ctx == nil { ctx = context.Background() }
            nodes, err := bootstrap.Discovery(cfg, nil).Nodes(ctx)
            if err != nil { return err }
            conns, err := bootstrap.Connections(cfg, nodes)
            if err != nil { return err }
            var failed int
            out := make([]pingResult, 0, len(conns))
            for _, conn := range conns {
                start := time.Now()
                err := conn.Ping(ctx)
                r := pingResult{Node: conn.ID(), OK: err == nil, Latency: time.Since(start).Round(time.Microsecond).String()}
                if err != nil { r.Error = err.Error(); failed++ }
                out = append(out, r)
                _ = conn.Close()
            }
            if err := printJSON(cmd.OutOrStdout(), out); err != nil { return err }
            if failed > 0 { return fmt.Errorf("%d of %d nodes unreachable", failed, len(conns)) }
            return nil
        },
    }
}

func newBucketsCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "buckets",
        Short: "List buckets",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                res, err := c.Buckets(ctx)
                if err != nil { return err }
                return printJSON(cmd.OutOrStdout(), res)
            })
        },
    }
}

func newKeysCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "keys <bucket>",
        Short: "List keys of a bucket",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                res, err := c.Keys(ctx, args[0])
                if err != nil { return err }
                return printJSON(cmd.OutOrStdout(), res)
            })
        },
    }
}

// ErrKeyNotFound is returned by "get" for a missing key.
var ErrKeyNotFound = errors.New("key not found")

func newGetCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "get <bucket> <key>",
        Short: "Fetch a value and write it to stdout",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                res, err := c.Get(ctx, args[0], args[1])
                if err != nil { return err }
                if !res.Found { return fmt.Errorf("%s/%s: %w", args[0], args[1], ErrKeyNotFound) }
                _, err = cmd.OutOrStdout().Write(res.Value)
                return err
            })
        },
    }
}

func newPutCmd(g *globals) *cobra.Command {
    var contentType string
    cmd := &cobra.Command{
        Use:   "put <bucket> <key> <value|->",
        Short: "Store a value; \"-\" reads it from stdin",
        Args:  cobra.ExactArgs(3),
        RunE: func(cmd *cobra.Command, args []string) error {
            value := []byte(args[2])
            if args[2] == "-" {
                b, err := io.ReadAll(cmd.InOrStdin())
                if err != nil { return err }
                value = b
            }
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                res, err := c.Put(ctx, args[0], args[1], value, contentType)
                if err != nil { return err }
                return printJSON(cmd.OutOrStdout(), map[string]string{"vclock": res.VClock})
            })
        },
    }
    cmd.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "content type stored with the value")
    return cmd
}

func newDeleteCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "delete <bucket> <key>",
        Short: "Delete a key",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            return g.withCluster(cmd, func(ctx context.Context, c *cluster.Cluster) error {
                return c.Delete(ctx, args[0], args[1])
            })
        },
    }
}
