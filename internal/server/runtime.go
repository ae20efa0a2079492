package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	ilog "github.com/tnnl/coordinator/internal/log"
)

// Run reconciles leftover tunnel records, then serves until ctx is
// cancelled or the listener fails. On return every session has been closed
// and its tunnels released, or the shutdown timeout elapsed.
func (s *Server) Run(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile tunnels: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, without reconciliation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", ln.Addr().String(), "domain", s.cfg.BaseDomain)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.closing.Store(true)
	if err := shutdownServer(httpServer, 5*time.Second); err != nil && runErr == nil {
		runErr = err
	}
	s.closeAllSessions()
	if wait := s.shutdownWait(); !waitGroupWait(&s.hub.wg, wait) {
		s.log.Warn("sessions still running after shutdown timeout", "timeout", wait)
	}
	s.log.Info("server stopped")
	return runErr
}

// Close drops every session and waits for their release, for callers that
// serve Handler themselves.
func (s *Server) Close() bool {
	s.closing.Store(true)
	s.closeAllSessions()
	return waitGroupWait(&s.hub.wg, s.shutdownWait())
}

// shutdownWait is how long to wait for sessions to release their tunnels.
// A release is one teardown plus a record delete, so the wait never
// undercuts that even when the configured shutdown timeout is shorter.
func (s *Server) shutdownWait() time.Duration {
	wait := s.cfg.ShutdownTimeout
	if release := s.cfg.ProvisionTimeout + gatewayTimeout; release > wait {
		wait = release
	}
	return wait
}

// reconcile removes records left by a previous process. The registry is
// empty at start, so every persisted tunnel is stale.
func (s *Server) reconcile(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	tunnels, err := s.gateway.ListTunnels(listCtx)
	cancel()
	if err != nil {
		return err
	}

	stale := 0
	for _, t := range tunnels {
		if _, active := s.registry.Get(t.Subdomain); active {
			continue
		}
		stale++
		if err := s.provisioner.Teardown(ctx, t); err != nil {
			s.log.Warn("stale tunnel teardown incomplete", ilog.KeySubdomain, t.Subdomain, ilog.KeyErr, err)
		}
		delCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
		err := s.gateway.DeleteTunnel(delCtx, t.Subdomain)
		cancel()
		if err != nil {
			s.log.Error("failed to delete stale tunnel record", ilog.KeySubdomain, t.Subdomain, ilog.KeyErr, err)
		}
	}
	if stale > 0 {
		s.log.Info("reconciled stale tunnels", "count", stale)
	}
	return nil
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitGroupWait blocks until wg reaches zero or timeout elapses.
// Returns false if the timeout fired before all goroutines finished.
func waitGroupWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
