package cluster

import (
    "context"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
)

func (c *Cluster) op(ctx context.Context, op connection.Operation) (*connection.Result, error) {
    return Execute(ctx, c, func(ctx context.Context, conn connection.Connection) (*connection.Result, error) {
        return conn.Execute(ctx, op)
    })
}

// Get fetches bucket/key from the next healthy node. A missing key yields
// a Result with Found=false.
func (c *Cluster) Get(ctx context.Context, bucket, key string) (*connection.Result, error) {
    return c.op(ctx, connection.Operation{Kind: connection.KindGet, Bucket: bucket, Key: key})
}

// Put stores value under bucket/key.
func (c *Cluster) Put(ctx context.Context, bucket, key string, value []byte, contentType string) (*connection.Result, error) {
    return c.op(ctx, connection.Operation{Kind: connection.KindPut, Bucket: bucket, Key: key, Value: value, ContentType: contentType})
}

// Delete removes bucket/key.
func (c *Cluster) Delete(ctx context.Context, bucket, key string) error {
    _, err := c.op(ctx, connection.Operation{Kind: connection.KindDelete, Bucket: bucket, Key: key})
    return err
}

// Keys lists the keys of bucket.
func (c *Cluster) Keys(ctx context.Context, bucket string) ([]string, error) {
    res, err := c.op(ctx, connection.Operation{Kind: connection.KindListKeys, Bucket: bucket})
    if err != nil { return nil, err }
    return res.Keys, nil
}

// Buckets lists the buckets known to the next healthy node.
func (c *Cluster) Buckets(ctx context.Context) ([]string, error) {
    return Execute(ctx, c, func(ctx context.Context, conn connection.Connection) ([]string, error) {
        return conn.ListResources(ctx)
    })
}
