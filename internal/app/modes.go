package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	systemdActivation "github.com/coreos/go-systemd/v22/activation"

	"dapaggregator/pkg/logging"
)

// runServer starts the HTTP front door and, for a Leader-playing process,
// the background collection finisher, then blocks until SIGINT/SIGTERM
// before shutting everything down gracefully.
//
// Listener setup prefers systemd socket activation when a unit hands the
// process a socket (LISTEN_FDS set), the same mechanism a long-running
// network service in this codebase's style uses rather than binding its
// own listener directly; it falls back to binding ListenAddr itself for
// plain `dapaggregator serve` invocations.
func runServer(ctx context.Context, services *Services) error {
	listener, err := activationListener(services.ListenAddr)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Handler: services.HTTP}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "listening on %s", listener.Addr())
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stopBackground := make(chan struct{})
	if services.Role != RoleHelper {
		go runBackgroundLoops(ctx, services, stopBackground)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stopBackground)
		return err
	case <-sigCh:
		logging.Info("Server", "shutting down")
	case <-ctx.Done():
		logging.Info("Server", "context canceled, shutting down")
	}

	close(stopBackground)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// activationListener returns the systemd-activated listener if one was
// passed to the process, otherwise binds addr itself.
func activationListener(addr string) (net.Listener, error) {
	listeners, err := systemdActivation.Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) > 0 {
		logging.Info("Server", "using systemd-activated listener")
		return listeners[0], nil
	}
	if addr == "" {
		addr = ":8443"
	}
	return net.Listen("tcp", addr)
}

// runBackgroundLoops drives the collection finisher on a fixed poll
// interval (spec.md §4.7, "Background finisher"). It does not run
// aggregation jobs: nothing in the server process calls Leader.RunJob.
// A production deployment would instead react to queue depth; a fixed
// poll keeps the reference implementation simple.
func runBackgroundLoops(ctx context.Context, services *Services, stop <-chan struct{}) {
	interval := time.Duration(services.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if services.CollectMgr != nil {
				if err := services.CollectMgr.FinishPending(ctx); err != nil {
					logging.Error("CollectManager", err, "finisher pass failed")
				}
			}
		}
	}
}
