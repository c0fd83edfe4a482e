package dashboard

import (
	"context"
	"crypto/tls"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/utils/certs/traefik"
)

var ErrNoCertificate = errors.New("no certificate configured")

// CertSource names where the server certificate is read from.
// A traefik acme file takes precedence over a plain key pair.
type CertSource struct {
	CertFile      string
	KeyFile       string
	TraefikFile   string
	TraefikDomain string
}

func (c CertSource) Enabled() bool {
	return (c.TraefikFile != "" && c.TraefikDomain != "") ||
		(c.CertFile != "" && c.KeyFile != "")
}

func (c CertSource) files() []string {
	if c.TraefikFile != "" && c.TraefikDomain != "" {
		return []string{c.TraefikFile}
	}
	return []string{c.CertFile, c.KeyFile}
}

func (c CertSource) load() (tls.Certificate, error) {
	switch {
	case c.TraefikFile != "" && c.TraefikDomain != "":
		return traefik.FromFile(c.TraefikFile, c.TraefikDomain)
	case c.CertFile != "" && c.KeyFile != "":
		return tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	}
	return tls.Certificate{}, ErrNoCertificate
}

// CertProvider serves the current certificate and reloads it when its files change
type CertProvider struct {
	src  CertSource
	mu   sync.RWMutex
	cert *tls.Certificate
	l    *log.Logger
}

// NewCertProvider loads the certificate once. Reloads happen after Watch is started.
func NewCertProvider(src CertSource) (*CertProvider, error) {
	p := &CertProvider{src: src, l: log.Default().Named("dashboard.certs")}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CertProvider) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			return p.cert, nil
		},
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}
}

func (p *CertProvider) reload() error {
	cert, err := p.src.load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cert = &cert
	return nil
}

// Watch reloads the certificate on changes until ctx is done.
// A failed reload keeps the previous certificate.
func (p *CertProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	files := p.src.files()
	for _, f := range files {
		// certificate tools replace files, so the directory is watched
		if err := watcher.Add(filepath.Dir(f)); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isOneOf(ev.Name, files) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			p.l.Info("cert file changed, reloading cert", log.String("file", ev.Name))
			if err := p.reload(); err != nil {
				p.l.Error("could not reload cert", log.ErrorField(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.l.Error("watcher error", log.ErrorField(err))
		}
	}
}

func isOneOf(name string, files []string) bool {
	for _, f := range files {
		if filepath.Clean(name) == filepath.Clean(f) {
			return true
		}
	}
	return false
}
