package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/simsync/connection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PeerSource returns the current peer listing. connection.Endpoint.Snapshot
// satisfies it and is safe to call from the HTTP goroutines.
type PeerSource func() []connection.PeerInfo

// Server is the admin HTTP endpoint exposing Prometheus metrics and the
// peer listing.
type Server struct {
	router   chi.Router
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer builds the admin router. metricsPath defaults to /metrics.
func NewServer(gatherer prometheus.Gatherer, peers PeerSource, metricsPath string) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/peers", func(w http.ResponseWriter, _ *http.Request) {
		var list []connection.PeerInfo
		if peers != nil {
			list = peers()
		}
		if list == nil {
			list = []connection.PeerInfo{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.peers",
				"error":    err.Error(),
			}).Debug("Failed to write peer listing")
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{router: r}
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Server.Start",
				"addr":     addr,
				"error":    err.Error(),
			}).Error("Admin server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"addr":     ln.Addr().String(),
	}).Info("Admin server listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
