package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "github.com/amirimatin/go-kvcluster/pkg/connection"
    "github.com/amirimatin/go-kvcluster/pkg/internal/logutil"
    "github.com/amirimatin/go-kvcluster/pkg/observability/tracing"
    "github.com/amirimatin/go-kvcluster/pkg/transport"
)

// maxBody bounds request payloads.
const maxBody = 8 << 20

// Server exposes a Backend over the node HTTP API together with /metrics.
type Server struct {
    bind   string
    logger *zap.Logger
    tlsCfg *tls.Config

    mu   sync.Mutex
    srv  *http.Server
    addr string
}

// NewServer binds to the given TCP address (e.g., ":8098").
func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrNop(logger)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the API mux for b. Exposed for httptest.
func Handler(b transport.Backend) http.Handler {
    h := &handler{b: b}
    mux := http.NewServeMux()
    mux.HandleFunc("GET /ping", h.ping)
    mux.HandleFunc("GET /buckets", h.buckets)
    mux.HandleFunc("GET /buckets/{bucket}/keys", h.keys)
    mux.HandleFunc("GET /buckets/{bucket}/keys/{key}", h.get)
    mux.HandleFunc("PUT /buckets/{bucket}/keys/{key}", h.put)
    mux.HandleFunc("POST /buckets/{bucket}/keys/{key}", h.put)
    mux.HandleFunc("DELETE /buckets/{bucket}/keys/{key}", h.del)
    mux.HandleFunc("GET /stats", h.stats)
    mux.Handle("GET /metrics", promhttp.Handler())
    return mux
}

// Start launches the HTTP server. The server is shut down when ctx is
// canceled.
func (s *Server) Start(ctx context.Context, b transport.Backend) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: Handler(b), ReadHeaderTimeout: 10 * time.Second}
    s.mu.Lock()
    s.srv, s.addr = srv, ln.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "http api listening on %s", s.Addr())
    return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.Server = (*Server)(nil)

type handler struct{ b transport.Backend }

func (h *handler) ping(w http.ResponseWriter, r *http.Request) {
    if err := h.b.Ping(r.Context()); err != nil {
        http.Error(w, err.Error(), http.StatusServiceUnavailable)
        return
    }
    w.Header().Set("Content-Type", "text/plain")
    _, _ = w.Write([]byte("OK"))
}

func (h *handler) buckets(w http.ResponseWriter, r *http.Request) {
    if r.URL.Query().Get("buckets") != "true" {
        http.Error(w, "buckets=true required", http.StatusBadRequest)
        return
    }
    res, err := h.b.Buckets(r.Context())
    if err != nil { writeErr(w, err); return }
    writeJSON(w, transport.BucketList{Buckets: orEmpty(res)})
}

func (h *handler) keys(w http.ResponseWriter, r *http.Request) {
    if r.URL.Query().Get("keys") != "true" {
        http.Error(w, "keys=true required", http.StatusBadRequest)
        return
    }
    res, err := h.exec(r, connection.Operation{Kind: connection.KindListKeys, Bucket: r.PathValue("bucket")})
    if err != nil { writeErr(w, err); return }
    writeJSON(w, transport.KeyList{Keys: orEmpty(res.Keys)})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
    res, err := h.exec(r, connection.Operation{Kind: connection.KindGet, Bucket: r.PathValue("bucket"), Key: r.PathValue("key")})
    if err != nil { writeErr(w, err); return }
    if !res.Found {
        http.Error(w, "not found", http.StatusNotFound)
        return
    }
    if res.VClock != "" { w.Header().Set(transport.HeaderVClock, res.VClock) }
    ct := res.ContentType
    if ct == "" { ct = "application/octet-stream" }
    w.Header().Set("Content-Type", ct)
    _, _ = w.Write(res.Value)
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
    body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
    if err != nil {
        http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
        return
    }
    res, err := h.exec(r, connection.Operation{
        Kind:        connection.KindPut,
        Bucket:      r.PathValue("bucket"),
        Key:         r.PathValue("key"),
        Value:       body,
        ContentType: r.Header.Get("Content-Type"),
        VClock:      r.Header.Get(transport.HeaderVClock),
    })
    if err != nil { writeErr(w, err); return }
    if res.VClock != "" { w.Header().Set(transport.HeaderVClock, res.VClock) }
    w.WriteHeader(http.StatusNoContent)
}

func (h *handler) del(w http.ResponseWriter, r *http.Request) {
    _, err := h.exec(r, connection.Operation{Kind: connection.KindDelete, Bucket: r.PathValue("bucket"), Key: r.PathValue("key")})
    if err != nil { writeErr(w, err); return }
    w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
    members, err := h.b.RingMembers(r.Context())
    if err != nil { writeErr(w, err); return }
    writeJSON(w, transport.Stats{Node: h.b.NodeID(), RingMembers: orEmpty(members)})
}

func (h *handler) exec(r *http.Request, op connection.Operation) (*connection.Result, error) {
    if err := transport.Validate(op); err != nil { return nil, err }
    ctx, span := tracing.StartSpan(r.Context(), "http."+string(op.Kind))
    res, err := h.b.Execute(ctx, op)
    tracing.End(span, err)
    return res, err
}

func writeJSON(w http.ResponseWriter, v any) {
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
    code := http.StatusInternalServerError
    switch {
    case errors.Is(err, transport.ErrBadRequest):
        code = http.StatusBadRequest
    case errors.Is(err, connection.ErrNotFound):
        code = http.StatusNotFound
    case errors.Is(err, transport.ErrUnavailable):
        code = http.StatusServiceUnavailable
    }
    http.Error(w, err.Error(), code)
}

func orEmpty(s []string) []string {
    if s == nil { return []string{} }
    return s
}
