// Package server runs the gateway's HTTP listener and the background
// daemons (the workqueue pool and sequence cleanup) alongside it, with a
// shared graceful-shutdown sequence.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/convobridge/gateway/config"
	"golang.org/x/sync/errgroup"
)

// Daemon defines the contract for background components managed
// by the server's lifecycle (Start/Stop).
type Daemon interface {
	Name() string // For logging/identification
	Start() error
	Stop(ctx context.Context) error
}

type Server struct {
	configProvider *config.Provider
	handler        http.Handler
	logger         *slog.Logger
	daemons        []Daemon
	reload         func() error
	exitFunc       func(code int) // overridden in tests to avoid killing the test process
}

// NewServer constructor - daemons are added via AddDaemon.
func NewServer(provider *config.Provider, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		configProvider: provider,
		handler:        handler,
		logger:         logger,
		daemons:        make([]Daemon, 0),
		exitFunc:       os.Exit,
	}
}

// AddDaemon adds a daemon whose lifecycle will be managed by the server.
func (s *Server) AddDaemon(daemon Daemon) {
	if daemon == nil {
		s.logger.Warn("Attempted to add a nil daemon")
		return
	}
	s.logger.Info("Adding daemon", "daemon_name", daemon.Name())
	s.daemons = append(s.daemons, daemon)
}

// SetReloader wires the function invoked on SIGHUP. Without one, SIGHUP is
// logged and ignored.
func (s *Server) SetReloader(reload func() error) {
	s.reload = reload
}

func (s *Server) handleSIGHUP() {
	s.logger.Info("received SIGHUP - reloading configuration")
	if s.reload == nil {
		s.logger.Warn("no reloader configured, ignoring SIGHUP")
		return
	}
	if err := s.reload(); err != nil {
		s.logger.Error("configuration reload failed", "error", err)
	}
}

func (s *Server) Run() {
	serverCfg := s.configProvider.Get().Server
	s.logServerConfig(&serverCfg)

	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       serverCfg.ReadTimeout,
		ReadHeaderTimeout: serverCfg.ReadHeaderTimeout,
		WriteTimeout:      serverCfg.WriteTimeout,
		IdleTimeout:       serverCfg.IdleTimeout,
	}

	serverError := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", serverCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "err", err)
			serverError <- err
		}
	}()

	s.logger.Info("starting daemons sequentially...")
	var startupFailed bool
	for _, daemon := range s.daemons {
		s.logger.Info("starting daemon", "daemon_name", daemon.Name())
		if err := daemon.Start(); err != nil {
			s.logger.Error("failed to start daemon, initiating shutdown",
				"daemon_name", daemon.Name(), "error", err)
			serverError <- fmt.Errorf("daemon %q failed to start: %w", daemon.Name(), err)
			startupFailed = true
			break
		}
		s.logger.Info("daemon started successfully", "daemon_name", daemon.Name())
	}
	if !startupFailed {
		s.logger.Info("all daemons started successfully")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)

	running := true
	for running {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGINT, syscall.SIGQUIT:
				s.logger.Info("received termination signal - gracefully shutting down", "signal", sig)
				running = false
			case syscall.SIGHUP:
				s.handleSIGHUP()
			}
		case err := <-serverError:
			s.logger.Error("server error - initiating shutdown", "err", err)
			running = false
		}
	}

	signal.Stop(sigChan)
	close(sigChan)

	shutdownTimeout := s.configProvider.Get().Server.ShutdownGracefulTimeout
	gracefulCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	shutdownGroup, _ := errgroup.WithContext(gracefulCtx)

	shutdownGroup.Go(func() error {
		s.logger.Info("shutting down HTTP server")
		if err := srv.Shutdown(gracefulCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
			return err
		}
		s.logger.Info("HTTP server stopped gracefully")
		return nil
	})

	s.logger.Info("stopping daemons...")
	for _, d := range s.daemons {
		daemon := d
		shutdownGroup.Go(func() error {
			s.logger.Info("stopping daemon", "daemon_name", daemon.Name())
			if err := daemon.Stop(gracefulCtx); err != nil {
				s.logger.Error("error stopping daemon", "daemon_name", daemon.Name(), "error", err)
				return fmt.Errorf("daemon %q failed to stop gracefully: %w", daemon.Name(), err)
			}
			s.logger.Info("daemon stopped gracefully", "daemon_name", daemon.Name())
			return nil
		})
	}

	if err := shutdownGroup.Wait(); err != nil {
		s.logger.Error("error during shutdown", "err", err)
		s.exitFunc(1)
		return
	}

	if startupFailed {
		s.logger.Error("shut down after a daemon failed to start")
		s.exitFunc(1)
		return
	}

	s.logger.Info("all systems stopped gracefully")
	s.exitFunc(0)
}

func (s *Server) logServerConfig(cfg *config.Server) {
	s.logger.Info("server:", "address", cfg.Addr)
	s.logger.Info("server:",
		"readTimeout", cfg.ReadTimeout,
		"readHeaderTimeout", cfg.ReadHeaderTimeout,
		"writeTimeout", cfg.WriteTimeout,
		"idleTimeout", cfg.IdleTimeout)
	s.logger.Info("server:", "shutdownGracefulTimeout", cfg.ShutdownGracefulTimeout)
	if cfg.ClientIpProxyHeader != "" {
		s.logger.Info("server:", "header", cfg.ClientIpProxyHeader)
	}
}
