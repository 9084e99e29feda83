// Package config loads client configuration from YAML files and the
// environment.
package config

import (
    "bytes"
    "errors"
    "fmt"
    "io"
    "os"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-kvcluster/pkg/discovery"
    tlsx "github.com/amirimatin/go-kvcluster/pkg/security/tlsconfig"
)

// Environment overrides applied after the file is read.
const (
    EnvNodes    = "KVCLUSTER_NODES"
    EnvProtocol = "KVCLUSTER_PROTOCOL"
)

const (
    ProtoHTTP = "http"
    ProtoGRPC = "grpc"
)

var validate = validator.New()

// Config is the file representation of a client cluster.
type Config struct {
    // Name labels the cluster's metrics.
    Name string `yaml:"name"`
    // Nodes is a static node list. It is ignored when Discovery.Kind is set.
    Nodes     []string  `yaml:"nodes" validate:"dive,required"`
    Protocol  string    `yaml:"protocol" validate:"oneof=http grpc"`
    Discovery Discovery `yaml:"discovery"`

    MinHealthyRatio  float64       `yaml:"min_healthy_ratio" validate:"gte=0,lte=1"`
    ExpectedSize     int           `yaml:"expected_size" validate:"gte=0"`
    RecoveryInterval time.Duration `yaml:"recovery_interval" validate:"gte=0"`
    // RingMin additionally requires this many ring members before a node
    // is promoted back. Zero disables the check.
    RingMin int `yaml:"ring_min" validate:"gte=0"`

    Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
    // Retries for idempotent HTTP reads; negative disables.
    Retries int `yaml:"retries"`

    TLS   tlsx.Options `yaml:"tls"`
    Log   Log          `yaml:"log"`
    Trace bool         `yaml:"trace"`
}

// Discovery selects a dynamic node source.
type Discovery struct {
    Kind    string        `yaml:"kind" validate:"omitempty,oneof=static file dns"`
    File    string        `yaml:"file" validate:"required_if=Kind file"`
    Env     string        `yaml:"env"`
    Names   []string      `yaml:"names" validate:"required_if=Kind dns,dive,required"`
    Port    int           `yaml:"port" validate:"gte=0,lte=65535"`
    Server  string        `yaml:"server" validate:"omitempty,hostname_port"`
    Refresh time.Duration `yaml:"refresh" validate:"gte=0"`
}

type Log struct {
    JSON  bool `yaml:"json"`
    Debug bool `yaml:"debug"`
}

// Default returns a Config with every optional field at its default.
func Default() Config {
    return Config{
        Protocol:         ProtoHTTP,
        MinHealthyRatio:  0.5,
        RecoveryInterval: 5 * time.Second,
        Timeout:          3 * time.Second,
    }
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
    cfg, err := Read(path)
    if err != nil { return Config{}, err }
    if err := cfg.Validate(); err != nil { return Config{}, err }
    return cfg, nil
}

// Read is Load without validation, for callers that layer further
// overrides (command-line flags) before calling Validate.
func Read(path string) (Config, error) {
    cfg := Default()
    if path != "" {
        f, err := os.Open(path)
        if err != nil { return Config{}, fmt.Errorf("config: %w", err) }
        defer f.Close()
        if cfg, err = Parse(f); err != nil { return Config{}, err }
    }
    cfg.ApplyEnv()
    return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
    cfg := Default()
    data, err := io.ReadAll(r)
    if err != nil { return Config{}, fmt.Errorf("config: %w", err) }
    if len(bytes.TrimSpace(data)) == 0 { return cfg, nil }
    dec := yaml.NewDecoder(bytes.NewReader(data))
    dec.KnownFields(true)
    if err := dec.Decode(&cfg); err != nil { return Config{}, fmt.Errorf("config: %w", err) }
    return cfg, nil
}

// ApplyEnv overrides the node list and protocol from the environment.
func (c *Config) ApplyEnv() {
    if v := strings.TrimSpace(os.Getenv(EnvNodes)); v != "" {
        c.Nodes = discovery.ParseCSV(v)
        c.Discovery.Kind = ""
    }
    if v := strings.TrimSpace(os.Getenv(EnvProtocol)); v != "" { c.Protocol = strings.ToLower(v) }
}

// Validate checks field constraints and that some node source is set.
func (c Config) Validate() error {
    if err := validate.Struct(c); err != nil { return formatValidationError(err) }
    switch c.Discovery.Kind {
    case "":
        if len(c.Nodes) == 0 { return errors.New("config: nodes: at least one node or a discovery source is required") }
    case "static":
        if len(c.Nodes) == 0 { return errors.New("config: nodes: static discovery requires at least one node") }
    }
    return nil
}

func formatValidationError(err error) error {
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) { return fmt.Errorf("config: %w", err) }
    msgs := make([]string, 0, len(verrs))
    for _, fe := range verrs {
        tag := fe.Tag()
        if fe.Param() != "" { tag += "=" + fe.Param() }
        msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), tag, fe.Value()))
    }
    return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}
