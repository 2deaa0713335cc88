package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/livecast/overlay-delivery-service/config"
)

// Server wraps http.Server with an explicit listen step so the bound
// address is known before Serve runs.
type Server struct {
	srv    *http.Server
	addr   string
	logger *slog.Logger
	ln     net.Listener
}

func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   cfg.Server.Addr,
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("[HTTP] listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("[HTTP] serve failed", slog.Any("err", err))
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests. Hijacked WebSockets are closed by the hub.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
