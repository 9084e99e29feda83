// Package tlsconfig builds tls.Config values for node connections and for
// the dev node's HTTP and gRPC listeners.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
)

// ReloadTTL bounds how long a hot-reloaded certificate is cached.
const ReloadTTL = 10 * time.Second

// Options defines (m)TLS configuration inputs.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca_file"`
    CertFile           string `yaml:"cert_file"`
    KeyFile            string `yaml:"key_file"`
    InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
    ServerName         string `yaml:"server_name"`
    // HotReload re-reads the key pair from disk at most every ReloadTTL.
    HotReload bool `yaml:"hot_reload"`

    Clock clockwork.Clock `yaml:"-"`
}

// Server returns a tls.Config for servers if enabled, otherwise nil. A CA
// file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    if o.HotReload {
        load := o.reloader()
        cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return load() }
        return cfg, nil
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, fmt.Errorf("tls: %w", err) }
    cfg.Certificates = []tls.Certificate{cert}
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    if o.HotReload {
        load := o.reloader()
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return load() }
        return cfg, nil
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, fmt.Errorf("tls: %w", err) }
    cfg.Certificates = []tls.Certificate{cert}
    return cfg, nil
}

func (o Options) reloader() func() (*tls.Certificate, error) {
    clk := o.Clock
    if clk == nil { clk = clockwork.NewRealClock() }
    var (
        mu       sync.RWMutex
        cached   *tls.Certificate
        lastLoad time.Time
    )
    return func() (*tls.Certificate, error) {
        mu.RLock()
        if cached != nil && clk.Since(lastLoad) < ReloadTTL {
            c := *cached
            mu.RUnlock()
            return &c, nil
        }
        mu.RUnlock()
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, fmt.Errorf("tls: %w", err) }
        mu.Lock()
        cached, lastLoad = &cert, clk.Now()
        mu.Unlock()
        return &cert, nil
    }
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, fmt.Errorf("tls: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}
