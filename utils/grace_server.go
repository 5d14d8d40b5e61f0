package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	DEFAULT_READ_TIMEOUT     = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT    = DEFAULT_READ_TIMEOUT
	DEFAULT_SHUTDOWN_TIMEOUT = 30 * time.Second
)

// Server wraps http.Server with signal driven graceful shutdown.
type Server struct {
	*http.Server

	logger  *zap.Logger
	onClose []func(context.Context) error
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  DEFAULT_READ_TIMEOUT,
			WriteTimeout: DEFAULT_WRITE_TIMEOUT,
		},
		logger: logger,
	}
}

// OnClose registers a hook run after the HTTP server drained, in registration order.
func (srv *Server) OnClose(fn func(context.Context) error) {
	srv.onClose = append(srv.onClose, fn)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts down.
func (srv *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("net.Listen error: %w", err)
	}
	return srv.serve(ctx, ln)
}

func (srv *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Server.Serve(ln)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	case <-ctx.Done():
		srv.logger.Info("shutdown signal received, draining HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DEFAULT_SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		srv.logger.Info("HTTP server shutdown success")
	}

	errs := []error{serveErr}
	for _, fn := range srv.onClose {
		if err := fn(shutdownCtx); err != nil {
			srv.logger.Warn("shutdown hook failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
