package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed cert/key pair for cn into dir.
func writeSelfSigned(t *testing.T, dir, cn string) (certFile, keyFile string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        Subject:               pkix.Name{CommonName: cn},
        DNSNames:              []string{cn},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    require.NoError(t, err)
    kb, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)

    certFile, keyFile = filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
    require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
    require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}), 0o600))
    return certFile, keyFile
}

func leafCN(t *testing.T, c *tls.Certificate) string {
    t.Helper()
    leaf, err := x509.ParseCertificate(c.Certificate[0])
    require.NoError(t, err)
    return leaf.Subject.CommonName
}

func TestDisabled(t *testing.T) {
    s, err := Options{}.Server()
    require.NoError(t, err)
    assert.Nil(t, s)
    c, err := Options{}.Client()
    require.NoError(t, err)
    assert.Nil(t, c)
}

func TestServerAndClient(t *testing.T) {
    cert, key := writeSelfSigned(t, t.TempDir(), "kv1.local")

    _, err := Options{Enable: true}.Server()
    assert.Error(t, err, "server needs a key pair")

    s, err := Options{Enable: true, CAFile: cert, CertFile: cert, KeyFile: key}.Server()
    require.NoError(t, err)
    require.Len(t, s.Certificates, 1)
    assert.Equal(t, tls.RequireAndVerifyClientCert, s.ClientAuth)
    assert.NotNil(t, s.ClientCAs)

    c, err := Options{Enable: true, CAFile: cert, ServerName: "kv1.local"}.Client()
    require.NoError(t, err)
    assert.Equal(t, "kv1.local", c.ServerName)
    assert.NotNil(t, c.RootCAs)
    assert.Empty(t, c.Certificates)

    _, err = Options{Enable: true, CAFile: key}.Client()
    assert.Error(t, err, "a key is not a CA bundle")
}

func TestHotReload(t *testing.T) {
    dir := t.TempDir()
    cert, key := writeSelfSigned(t, dir, "old.local")
    clk := clockwork.NewFakeClock()

    s, err := Options{Enable: true, CertFile: cert, KeyFile: key, HotReload: true, Clock: clk}.Server()
    require.NoError(t, err)
    require.NotNil(t, s.GetCertificate)

    got, err := s.GetCertificate(nil)
    require.NoError(t, err)
    assert.Equal(t, "old.local", leafCN(t, got))

    writeSelfSigned(t, dir, "new.local")
    got, err = s.GetCertificate(nil)
    require.NoError(t, err)
    assert.Equal(t, "old.local", leafCN(t, got), "cached within the ttl")

    clk.Advance(ReloadTTL)
    got, err = s.GetCertificate(nil)
    require.NoError(t, err)
    assert.Equal(t, "new.local", leafCN(t, got))

    c, err := Options{Enable: true, CertFile: cert, KeyFile: key, HotReload: true, Clock: clk}.Client()
    require.NoError(t, err)
    cc, err := c.GetClientCertificate(nil)
    require.NoError(t, err)
    assert.Equal(t, "new.local", leafCN(t, cc))
}
