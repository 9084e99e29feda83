package cli

import (
    "context"
    "fmt"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    "github.com/amirimatin/go-kvcluster/pkg/membership"
    ml "github.com/amirimatin/go-kvcluster/pkg/membership/memberlist"
    "github.com/amirimatin/go-kvcluster/pkg/node"
    tlsx "github.com/amirimatin/go-kvcluster/pkg/security/tlsconfig"
)

// NewNodeCommand returns the "node" parent command with "run" beneath it.
func NewNodeCommand() *cobra.Command {
    parent := &cobra.Command{Use: "node", Short: "development key-value node"}
    parent.AddCommand(NewNodeRunCmd())
    return parent
}

// NewNodeRunCmd returns the "run" command used to start a dev node.
func NewNodeRunCmd() *cobra.Command {
    var (
        id, httpBind, grpcBind, dataPath  string
        gossipBind, gossipAdv, joinCSV    string
        tlsEnable, tlsHotReload, logJSON  bool
        tlsCA, tlsCert, tlsKey            string
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a development KV node",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing --id") }
            if httpBind == "" && grpcBind == "" { return fmt.Errorf("at least one of --http and --grpc is required") }
            ctx := cmd.Context()
            if ctx == nil { ctx = context.Background() }

            if logJSON { logutil.SetJSON(true) }
            logger, err := logutil.New(false)
            if err != nil { return err }
            defer func() { _ = logger.Sync() }()

            var store node.Store = node.NewMemoryStore()
            if dataPath != "" {
                if store, err = node.OpenBolt(dataPath); err != nil { return err }
            }

            topts := tlsx.Options{Enable: tlsEnable, CAFile: tlsCA, CertFile: tlsCert, KeyFile: tlsKey, HotReload: tlsHotReload}
            srvTLS, err := topts.Server()
            if err != nil { _ = store.Close(); return fmt.Errorf("tls server config: %w", err) }

            var ring membership.Membership
            if gossipBind != "" {
                meta := map[string]string{}
                if httpBind != "" { meta[membership.MetaHTTP] = httpBind }
                if grpcBind != "" { meta[membership.MetaGRPC] = grpcBind }
                ring, err = ml.New(ml.Options{NodeID: id, Bind: gossipBind, Advertise: gossipAdv, Meta: meta, Logger: logger})
                if err != nil { _ = store.Close(); return err }
            }

            n, err := node.New(node.Options{
                ID:         id,
                Store:      store,
                Membership: ring,
                Seeds:      discovery.ParseCSV(joinCSV),
                HTTPBind:   httpBind,
                GRPCBind:   grpcBind,
                TLS:        srvTLS,
                Logger:     logger,
            })
            if err != nil { _ = store.Close(); return err }
            if err := n.Start(ctx); err != nil { return err }
            logger.Info("node running", zap.String("http", n.HTTPAddr()), zap.String("grpc", n.GRPCAddr()))

            <-ctx.Done()
            sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            return n.Stop(sctx)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "node id (required)")
    cmd.Flags().StringVar(&httpBind, "http", ":8098", "HTTP API bind address (empty disables)")
    cmd.Flags().StringVar(&grpcBind, "grpc", ":8087", "gRPC API bind address (empty disables)")
    cmd.Flags().StringVar(&dataPath, "data", "", "bolt database file; empty keeps data in memory")
    cmd.Flags().StringVar(&gossipBind, "gossip-bind", "", "memberlist bind address (host:port); empty runs a single-node ring")
    cmd.Flags().StringVar(&gossipAdv, "gossip-adv", "", "memberlist advertise address (optional)")
    cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated gossip seeds (host:port)")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "serve the APIs over TLS")
    cmd.Flags().BoolVar(&tlsHotReload, "tls-hot-reload", false, "re-read the key pair from disk periodically")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "CA bundle for client certificate verification (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "server certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "server private key (PEM)")
    cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")
    return cmd
}
