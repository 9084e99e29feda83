package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-kvcluster/pkg/cluster"
    "github.com/amirimatin/go-kvcluster/pkg/config"
    "github.com/amirimatin/go-kvcluster/pkg/node"
)

func startNode(t *testing.T, id string) *node.Node {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    n, err := node.New(node.Options{ID: id, Store: node.NewMemoryStore(), HTTPBind: "127.0.0.1:0", GRPCBind: "127.0.0.1:0"})
    require.NoError(t, err)
    require.NoError(t, n.Start(ctx))
    t.Cleanup(func() { _ = n.Stop(context.Background()) })
    return n
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
    t.Helper()
    t.Setenv(config.EnvNodes, "")
    root := &cobra.Command{Use: "kvctl", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetErr(&bytes.Buffer{})
    root.SetIn(strings.NewReader(stdin))
    root.SetArgs(args)
    err := root.ExecuteContext(context.Background())
    return out.String(), err
}

func TestKVCommands(t *testing.T) {
    n := startNode(t, "n1")
    for _, tc := range []struct{ proto, addr string }{{"http", n.HTTPAddr()}, {"grpc", n.GRPCAddr()}} {
        t.Run(tc.proto, func(t *testing.T) {
            flags := []string{"--nodes", tc.addr, "--proto", tc.proto}
            bucket := "b-" + tc.proto

            out, err := run(t, "", append([]string{"put", bucket, "k1", "hello", "--content-type", "text/plain"}, flags...)...)
            require.NoError(t, err)
            assert.Contains(t, out, "vclock")

            out, err = run(t, "from stdin", append([]string{"put", bucket, "k2", "-"}, flags...)...)
            require.NoError(t, err)

            out, err = run(t, "", append([]string{"get", bucket, "k2"}, flags...)...)
            require.NoError(t, err)
            assert.Equal(t, "from stdin", out)

            out, err = run(t, "", append([]string{"keys", bucket}, flags...)...)
            require.NoError(t, err)
            var keys []string
            require.NoError(t, json.Unmarshal([]byte(out), &keys))
            assert.Equal(t, []string{"k1", "k2"}, keys)

            out, err = run(t, "", append([]string{"buckets"}, flags...)...)
            require.NoError(t, err)
            assert.Contains(t, out, bucket)

            _, err = run(t, "", append([]string{"delete", bucket, "k1"}, flags...)...)
            require.NoError(t, err)
            _, err = run(t, "", append([]string{"get", bucket, "k1"}, flags...)...)
            assert.ErrorIs(t, err, ErrKeyNotFound)
        })
    }
}

func TestStatusAndPing(t *testing.T) {
    up, down := startNode(t, "up"), startNode(t, "down")
    down.SetAvailable(false)
    nodes := up.HTTPAddr() + "," + down.HTTPAddr()

    out, err := run(t, "", "status", "--nodes", nodes)
    require.NoError(t, err)
    var st cluster.ClusterStatus
    require.NoError(t, json.Unmarshal([]byte(out), &st))
    assert.Equal(t, []string{up.HTTPAddr()}, st.Healthy)
    assert.Equal(t, []string{down.HTTPAddr()}, st.Unhealthy)

    out, err = run(t, "", "ping", "--nodes", nodes)
    require.Error(t, err)
    var res []pingResult
    require.NoError(t, json.Unmarshal([]byte(out), &res))
    require.Len(t, res, 2)
    for _, r := range res {
        assert.Equal(t, r.Node == up.HTTPAddr(), r.OK, r.Node)
    }
}

func TestConfigFile(t *testing.T) {
    n := startNode(t, "n1")
    path := filepath.Join(t.TempDir(), "kv.yaml")
    require.NoError(t, os.WriteFile(path, []byte("nodes: ["+n.GRPCAddr()+"]\nprotocol: grpc\n"), 0o600))

    out, err := run(t, "", "status", "--config", path)
    require.NoError(t, err)
    assert.Contains(t, out, n.GRPCAddr())
}

func TestConfigFileWithFlagNodes(t *testing.T) {
    n := startNode(t, "n1")
    path := filepath.Join(t.TempDir(), "kv.yaml")
    require.NoError(t, os.WriteFile(path, []byte("protocol: grpc\ntimeout: 2s\n"), 0o600))

    out, err := run(t, "", "status", "--config", path, "--nodes", n.GRPCAddr())
    require.NoError(t, err)
    assert.Contains(t, out, n.GRPCAddr())

    _, err = run(t, "", "status", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--nodes", n.GRPCAddr())
    assert.Error(t, err)
}

func TestArgErrors(t *testing.T) {
    _, err := run(t, "", "status")
    assert.Error(t, err, "no nodes configured")
    _, err = run(t, "", "get", "only-bucket", "--nodes", "127.0.0.1:1")
    assert.Error(t, err)
    _, err = run(t, "", "node", "run")
    assert.Error(t, err, "missing --id")
}
