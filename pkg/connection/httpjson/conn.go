// Package httpjson implements connection.Connection over the node HTTP API.
package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
)

// Config describes one node endpoint.
type Config struct {
    // ID defaults to Addr.
    ID string
    // Addr is host:port or a full base URL.
    Addr    string
    Timeout time.Duration
    TLS     *tls.Config
    // Retries bounds transport-level retries of idempotent reads. Writes are
    // never retried. Zero means 2; negative disables retries.
    Retries int
}

// StatusError is an unexpected HTTP status from a node that is otherwise
// reachable.
type StatusError struct {
    Code int
    Body string
}

func (e *StatusError) Error() string {
    if e.Body == "" { return fmt.Sprintf("httpjson: status %d", e.Code) }
    return fmt.Sprintf("httpjson: status %d: %s", e.Code, e.Body)
}

// Conn is a thin HTTP client bound to a single node.
type Conn struct {
    id      string
    base    string
    httpc   *http.Client
    tr      *http.Transport
    retries uint64
}

// New builds a connection. It performs no network activity.
func New(cfg Config) (*Conn, error) {
    if cfg.Addr == "" { return nil, errors.New("httpjson: empty address") }
    base := strings.TrimRight(cfg.Addr, "/")
    if !strings.Contains(base, "://") {
        scheme := "http"
        if cfg.TLS != nil { scheme = "https" }
        base = scheme + "://" + base
    }
    if _, err := url.Parse(base); err != nil { return nil, fmt.Errorf("httpjson: bad address %q: %w", cfg.Addr, err) }
    if cfg.Timeout <= 0 { cfg.Timeout = 3 * time.Second }
    if cfg.ID == "" { cfg.ID = cfg.Addr }
    retries := uint64(2)
    if cfg.Retries > 0 { retries = uint64(cfg.Retries) }
    if cfg.Retries < 0 { retries = 0 }
    tr := http.DefaultTransport.(*http.Transport).Clone()
    tr.TLSClientConfig = cfg.TLS
    return &Conn{
        id:      cfg.ID,
        base:    base,
        httpc:   &http.Client{Timeout: cfg.Timeout, Transport: tr},
        tr:      tr,
        retries: retries,
    }, nil
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Ping(ctx context.Context) error {
    return c.do(ctx, "ping", true, http.MethodGet, "/ping", nil, nil, func(resp *http.Response) error {
        _, _ = io.Copy(io.Discard, resp.Body)
        return nil
    })
}

func (c *Conn) ListResources(ctx context.Context) ([]string, error) {
    var out transport.BucketList
    err := c.do(ctx, "list_buckets", true, http.MethodGet, "/buckets?buckets=true", nil, nil, decodeInto(&out))
    return out.Buckets, err
}

// RingMembers reads the ring view from /stats.
func (c *Conn) RingMembers(ctx context.Context) ([]string, error) {
    var out transport.Stats
    err := c.do(ctx, "stats", true, http.MethodGet, "/stats", nil, nil, decodeInto(&out))
    return out.RingMembers, err
}

func (c *Conn) Execute(ctx context.Context, op connection.Operation) (*connection.Result, error) {
    if err := transport.Validate(op); err != nil { return nil, err }
    keyPath := "/buckets/" + url.PathEscape(op.Bucket) + "/keys/" + url.PathEscape(op.Key)
    res := &connection.Result{}
    switch op.Kind {
    case connection.KindGet:
        err := c.do(ctx, string(op.Kind), true, http.MethodGet, keyPath, nil, nil, func(resp *http.Response) error {
            b, err := io.ReadAll(resp.Body)
            if err != nil { return err }
            res.Found = true
            res.Value = b
            res.ContentType = resp.Header.Get("Content-Type")
            res.VClock = resp.Header.Get(transport.HeaderVClock)
            return nil
        })
        var se *StatusError
        if errors.As(err, &se) && se.Code == http.StatusNotFound { return &connection.Result{}, nil }
        if err != nil { return nil, err }
        return res, nil
    case connection.KindPut:
        hdr := http.Header{}
        if op.ContentType != "" { hdr.Set("Content-Type", op.ContentType) }
        if op.VClock != "" { hdr.Set(transport.HeaderVClock, op.VClock) }
        err := c.do(ctx, string(op.Kind), false, http.MethodPut, keyPath, op.Value, hdr, func(resp *http.Response) error {
            res.Found = true
            res.VClock = resp.Header.Get(transport.HeaderVClock)
            return nil
        })
        if err != nil { return nil, err }
        return res, nil
    case connection.KindDelete:
        err := c.do(ctx, string(op.Kind), false, http.MethodDelete, keyPath, nil, nil, func(*http.Response) error { return nil })
        var se *StatusError
        if errors.As(err, &se) && se.Code == http.StatusNotFound { return res, nil }
        if err != nil { return nil, err }
        return res, nil
    default: // list_keys, already validated
        var out transport.KeyList
        p := "/buckets/" + url.PathEscape(op.Bucket) + "/keys?keys=true"
        if err := c.do(ctx, string(op.Kind), true, http.MethodGet, p, nil, nil, decodeInto(&out)); err != nil { return nil, err }
        res.Found = true
        res.Keys = out.Keys
        return res, nil
    }
}

// Close drops idle keep-alive connections.
func (c *Conn) Close() error {
    c.tr.CloseIdleConnections()
    return nil
}

// do issues one request, retrying idempotent ones on connectivity failures
// with exponential backoff. Transport failures and gateway statuses come
// back as *connection.ConnectivityError.
func (c *Conn) do(ctx context.Context, op string, idempotent bool, method, path string, body []byte, hdr http.Header, handle func(*http.Response) error) error {
    attempt := func() error {
        var rd io.Reader
        if body != nil { rd = bytes.NewReader(body) }
        req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
        if err != nil { return backoff.Permanent(err) }
        for k, v := range hdr { req.Header[k] = v }
        resp, err := c.httpc.Do(req)
        if err != nil {
            if ctx.Err() != nil { return backoff.Permanent(ctx.Err()) }
            return connection.Unreachable(c.id, op, err)
        }
        defer resp.Body.Close()
        if resp.StatusCode >= 200 && resp.StatusCode < 300 {
            if err := handle(resp); err != nil { return backoff.Permanent(c.bodyErr(ctx, op, err)) }
            return nil
        }
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
        se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
        switch resp.StatusCode {
        case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
            return connection.Unreachable(c.id, op, se)
        }
        return backoff.Permanent(se)
    }
    if !idempotent || c.retries == 0 {
        err := attempt()
        var pe *backoff.PermanentError
        if errors.As(err, &pe) { return pe.Err }
        return err
    }
    bo := backoff.NewExponentialBackOff()
    bo.InitialInterval = 100 * time.Millisecond
    bo.MaxInterval = time.Second
    return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx))
}

// bodyErr classifies a failure while reading a 2xx response. A connection
// dropped mid-body is a connectivity failure; a body that does not decode
// came from a reachable node and is returned as is.
func (c *Conn) bodyErr(ctx context.Context, op string, err error) error {
    if cerr := ctx.Err(); cerr != nil { return cerr }
    var ne net.Error
    if errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &ne) { return connection.Unreachable(c.id, op, err) }
    return fmt.Errorf("httpjson: %s: decode response: %w", op, err)
}

func decodeInto(v any) func(*http.Response) error {
    return func(resp *http.Response) error { return json.NewDecoder(resp.Body).Decode(v) }
}

var (
    _ connection.Connection   = (*Conn)(nil)
    _ connection.RingReporter = (*Conn)(nil)
)
