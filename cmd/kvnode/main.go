// Command kvnode runs a single development node. It is the same as
// "kvctl node run" packaged as its own binary for containers.
package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"

    kvcli "github.com/amirimatin/go-kvcluster/pkg/cli"
)

func main() {
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()
    root := kvcli.NewNodeRunCmd()
    root.Use = "kvnode"
    root.SilenceUsage = true
    if err := root.ExecuteContext(ctx); err != nil {
        fmt.Fprintln(os.Stderr, "kvnode:", err)
        cancel()
        os.Exit(1)
    }
}
