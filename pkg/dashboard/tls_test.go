package dashboard

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyPair(t *testing.T, dir, host string) CertSource {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	src := CertSource{CertFile: filepath.Join(dir, "tls.crt"), KeyFile: filepath.Join(dir, "tls.key")}
	require.NoError(t, os.WriteFile(src.KeyFile,
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	require.NoError(t, os.WriteFile(src.CertFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return src
}

func commonName(t *testing.T, p *CertProvider) string {
	t.Helper()
	cert, err := p.TLSConfig().GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestCertSource_Enabled(t *testing.T) {
	tests := []struct {
		name string
		src  CertSource
		want bool
	}{
		{"none", CertSource{}, false},
		{"cert only", CertSource{CertFile: "a"}, false},
		{"key pair", CertSource{CertFile: "a", KeyFile: "b"}, true},
		{"traefik without domain", CertSource{TraefikFile: "acme.json"}, false},
		{"traefik", CertSource{TraefikFile: "acme.json", TraefikDomain: "laps.example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.src.Enabled())
		})
	}
}

func TestCertProvider(t *testing.T) {
	_, err := NewCertProvider(CertSource{})
	assert.ErrorIs(t, err, ErrNoCertificate)

	dir := t.TempDir()
	src := writeKeyPair(t, dir, "first")
	p, err := NewCertProvider(src)
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, p))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeKeyPair(t, dir, "second")
	assert.Eventually(t, func() bool {
		return commonName(t, p) == "second"
	}, 5*time.Second, 50*time.Millisecond)
}
