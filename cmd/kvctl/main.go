package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"

    kvcli "github.com/amirimatin/go-kvcluster/pkg/cli"
)

func main() {
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()
    if err := newRoot().ExecuteContext(ctx); err != nil {
        fmt.Fprintln(os.Stderr, "kvctl:", err)
        cancel()
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "kvctl",
        Short:         "go-kvcluster client CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    kvcli.AddAll(root)
    return root
}
