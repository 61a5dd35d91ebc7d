package server

import (
	"context"
	"net"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/jeffhajewski/quill/common"
)

// Server hosts a Quill RPC router on the profiles its configuration
// supports: Classic and Turbo share the TCP listener (h2c upgrades
// cleartext connections), Hyper adds an HTTP/3 listener over UDP when TLS
// is configured.
type Server struct {
	cfg    *Config
	router *Router
	log    *logrus.Entry

	httpSrv *http.Server
	h3Srv   *http3.Server
}

// NewServer creates a server around a router.
func NewServer(cfg *Config, router *Router) *Server {
	if cfg == nil {
		cfg = DefaultConfig
	}
	if router == nil {
		router = NewRouter(cfg, nil)
	}
	return &Server{
		cfg:    cfg,
		router: router,
		log:    logrus.WithField("component", "quill.server"),
	}
}

// Router delivers the server's router.
func (s *Server) Router() *Router { return s.router }

// Handler builds the full HTTP handler: the RPC router plus the
// observability endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.router.Collector().MetricsHandler())
	mux.Handle("/healthz", s.router.Collector().HealthHandler())
	mux.Handle("/", s.router)

	if s.supportsProfile(common.Turbo) && s.cfg.TLS == nil {
		// Cleartext HTTP/2 for cluster-internal Turbo traffic.
		return h2c.NewHandler(mux, &http2.Server{})
	}
	return mux
}

func (s *Server) supportsProfile(p common.Profile) bool {
	for _, sp := range s.cfg.Profiles {
		if sp == p {
			return true
		}
	}
	return false
}

// Serve listens on the configured address until the context is cancelled
// or a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	handler := s.Handler()

	s.httpSrv = &http.Server{
		Addr:      s.cfg.Address,
		Handler:   handler,
		TLSConfig: s.cfg.TLS,
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return &common.TransportError{Op: "listen", Err: err}
	}
	s.log.WithField("address", listener.Addr().String()).Info("quill server listening")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var serveErr error
		if s.cfg.TLS != nil {
			serveErr = s.httpSrv.ServeTLS(listener, "", "")
		} else {
			serveErr = s.httpSrv.Serve(listener)
		}
		if serveErr == http.ErrServerClosed {
			return nil
		}
		return serveErr
	})

	if s.supportsProfile(common.Hyper) && s.cfg.TLS != nil {
		s.h3Srv = &http3.Server{
			Addr:      s.cfg.Address,
			Handler:   handler,
			TLSConfig: s.cfg.TLS,
			QuicConfig: &quic.Config{
				EnableDatagrams: common.Hyper.SupportsDatagrams(),
			},
		}
		s.log.WithField("address", s.cfg.Address).Info("quill http/3 listener starting")
		g.Go(func() error {
			if serveErr := s.h3Srv.ListenAndServe(); serveErr != http.ErrServerClosed {
				return serveErr
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	return g.Wait()
}

// Close shuts the listeners down, aggregating any errors.
func (s *Server) Close() error {
	var result *multierror.Error
	if s.httpSrv != nil {
		if err := s.httpSrv.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.h3Srv != nil {
		if err := s.h3Srv.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
