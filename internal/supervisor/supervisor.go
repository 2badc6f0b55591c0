// Package supervisor wires the discovery scan loop, the streaming
// origin's HTTP listener, and periodic log rotation into a
// thejerf/suture/v4 supervision tree.
package supervisor

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/thejerf/suture/v4"

	"github.com/lms2upnp/bridge/internal/discovery"
	"github.com/lms2upnp/bridge/internal/log"
)

// New builds a suture.Supervisor that logs its own lifecycle events
// through the package logger rather than suture's default stderr
// writer, matching posture of routing everything through
// zerolog.
func New() *suture.Supervisor {
	logger := log.WithComponent("supervisor")
	return suture.New("lms2upnp", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Info().Str("event", "supervisor.event").Msg(ev.String())
		},
	})
}

// DiscoveryService runs the registry's scan loop on a fixed interval
// until ctx is cancelled. Implements
// suture.Service.
type DiscoveryService struct {
	Registry     *discovery.Registry
	ScanInterval time.Duration
	ScanTimeout  time.Duration
}

func (s *DiscoveryService) Serve(ctx context.Context) error {
	logger := log.WithComponent("supervisor.discovery")
	ticker := time.NewTicker(s.ScanInterval)
	defer ticker.Stop()

	// Run one scan immediately on startup rather than waiting a full
	// interval for the first device to appear.
	if err := s.Registry.RunScan(ctx, s.ScanTimeout); err != nil {
		logger.Warn().Err(err).Msg("discovery scan failed")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Registry.RunScan(ctx, s.ScanTimeout); err != nil {
				logger.Warn().Err(err).Msg("discovery scan failed")
			}
		}
	}
}

// OriginService owns the streaming origin's HTTP listener. Implements
// suture.Service; Serve blocks until ctx is cancelled, then shuts the
// server down gracefully.
type OriginService struct {
	Addr    string
	Handler http.Handler

	// Listener, when set, is served directly instead of binding Addr -
	// for a caller (main) that already bound the listener up front to
	// learn the OS-assigned port before starting the supervisor, e.g.
	// to build a GENA NOTIFY callback URL ahead of device bring-up.
	Listener net.Listener

	// ActualAddr is set after the listener binds, for callers (main)
	// that need the OS-assigned port when Addr ends in ":0" and
	// Listener isn't pre-bound.
	ActualAddr chan string
}

func (s *OriginService) Serve(ctx context.Context) error {
	logger := log.WithComponent("supervisor.origin")

	ln := s.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.Addr)
		if err != nil {
			return err
		}
	}
	if s.ActualAddr != nil {
		s.ActualAddr <- ln.Addr().String()
	}

	srv := &http.Server{Handler: s.Handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("origin server shutdown")
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// LogRotationChecker re-checks the log file's rotation threshold on a
// fixed interval so a quiet logger that never writes still rotates once
// its file crosses log_limit. Implements suture.Service.
type LogRotationChecker struct {
	File     *log.RotatingFile
	Interval time.Duration
}

func (s *LogRotationChecker) Serve(ctx context.Context) error {
	if s.File == nil {
		<-ctx.Done()
		return nil
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.File.CheckNow(); err != nil {
				log.WithComponent("supervisor.logrotate").Warn().Err(err).Msg("log rotation check failed")
			}
		}
	}
}

// TearDownAll calls every teardown func, aggregating failures with
// go-multierror instead of stopping at the first error, so one stuck
// renderer doesn't block the rest from tearing down cleanly during
// shutdown.
func TearDownAll(teardowns []func() error) error {
	var result *multierror.Error
	for _, fn := range teardowns {
		if err := fn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
