// Package server wires the Request Coordinator into a net/http server
// with zero-downtime restarts. Grounded on tavern's main.go tableflip
// wiring (the *tableflip.Fds-backed listener and PID-file handling are
// carried over directly); the kratos application-lifecycle wrapper
// tavern composes servers through is dropped since this engine has a
// single HTTP server and no plugin transports to multiplex (see
// DESIGN.md).
package server

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rangecache/mediaproxy/internal/conf"
	"github.com/rangecache/mediaproxy/internal/log"
	"github.com/rangecache/mediaproxy/internal/transport"
)

// Server owns the proxy's listener, the tableflip upgrader, and an
// optional metrics listener.
type Server struct {
	cfg        *conf.Server
	metrics    *conf.Metrics
	flip       *tableflip.Upgrader
	httpSrv    *http.Server
	metricsSrv *http.Server
}

// New constructs a Server serving handler on cfg.Addr, upgraded via
// flip.
func New(flip *tableflip.Upgrader, cfg *conf.Server, metricsCfg *conf.Metrics, handler http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	if cfg.PProf != nil && cfg.PProf.Enabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s := &Server{
		cfg:     cfg,
		metrics: metricsCfg,
		flip:    flip,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}

	if metricsCfg != nil && metricsCfg.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{Addr: metricsCfg.Addr, Handler: metricsMux}
	}

	return s
}

// Start satisfies transport.Server for callers that manage several
// transports uniformly; it simply delegates to Run.
func (s *Server) Start(ctx context.Context) error {
	return s.Run(transport.NewContext(ctx, "http"))
}

// Stop satisfies transport.Server. Shutdown already happens inside Run
// when ctx is canceled, so Stop here only bounds how long the caller
// waits for that to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Run listens on cfg.Addr via the tableflip-managed fd set and serves
// until ctx is canceled or the process receives SIGHUP to upgrade.
func (s *Server) Run(ctx context.Context) error {
	network := "tcp"
	addr := s.cfg.Addr
	if strings.HasSuffix(addr, ".sock") {
		network = "unix"
	}

	ln, err := s.flip.Fds.Listen(network, addr)
	if err != nil {
		return err
	}

	if s.metricsSrv != nil {
		metricsLn, err := s.flip.Fds.Listen("tcp", s.metrics.Addr)
		if err == nil {
			metricsCtx := transport.NewContext(ctx, "metrics")
			go func() {
				log.L().Infof("server: %s listener starting on %s", transport.FromContext(metricsCtx).Kind(), s.metrics.Addr)
				if err := s.metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
					log.L().Errorf("server: metrics listener stopped: %v", err)
				}
			}()
		} else {
			log.L().Warnf("server: failed to bind metrics listener %s: %v", s.metrics.Addr, err)
		}
	}

	if err := s.flip.Ready(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		if s.metricsSrv != nil {
			_ = s.metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case <-s.flip.Exit():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// RemoveStaleSocket deletes a leftover unix socket file when this
// process has no tableflip parent to inherit it from.
func RemoveStaleSocket(flip *tableflip.Upgrader, addr string) {
	if flip.HasParent() {
		return
	}
	if strings.HasSuffix(addr, ".sock") {
		_ = os.Remove(addr)
	}
}
