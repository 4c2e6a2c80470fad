package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager handles graceful shutdown of services. The HTTP server
// stops first, then registered functions run in reverse registration order,
// so a component is stopped before the things it depends on.
type ShutdownManager struct {
	logger          *Logger
	server          *http.Server
	shutdownTimeout time.Duration

	mu            sync.Mutex
	shutdownFuncs []namedShutdown
	once          sync.Once
	err           error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stdout)
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// Register adds a named function to call during shutdown. Nil functions are
// ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts
// down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.WithField("signal", sig.String()).Info("Received signal, starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Context done, starting graceful shutdown")
	}

	return sm.Shutdown()
}

// Shutdown stops the server and runs every registered function once. Later
// calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("HTTP server shutdown failed: %w", err))
		} else {
			sm.logger.Info("HTTP server shutdown complete")
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdown(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", funcs[i].name))
			break
		}
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			sm.logger.WithField("component", f.name).WithError(err).Error("Shutdown function failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.WithField("component", f.name).Debug("Shutdown function complete")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
