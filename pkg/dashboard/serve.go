package dashboard

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/thunderstriders/lapcounter/log"
)

type ServeOption func(c *serveConfig)

type serveConfig struct {
	tls *tls.Config
}

// WithTLS serves https using the given config. Its GetCertificate is used for every handshake.
func WithTLS(cfg *tls.Config) ServeOption {
	return func(c *serveConfig) {
		c.tls = cfg
	}
}

// Serve runs the dashboard on addr until ctx is done.
// Without TLS cleartext HTTP/2 is accepted.
func Serve(ctx context.Context, addr string, srv *Server, opts ...ServeOption) error {
	cfg := &serveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(srv.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.tls != nil {
		server.Handler = srv.Handler()
		server.TLSConfig = cfg.tls
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting dashboard", log.String("addr", addr), log.Bool("tls", cfg.tls != nil))
		if cfg.tls != nil {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	// streams would keep the server busy until the shutdown timeout
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Dashboard stopped")
	return nil
}
