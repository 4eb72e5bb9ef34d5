// Package api exposes the cash-flow reports, KPIs and forecasts over HTTP.
//
// Every company-scoped view is served under
//
//	GET /api/companies/{companyId}/cashflow/{report}
//
// and accepts the query parameters from, to, days, horizonDays, groupBy,
// portfolioId, accountId, paymentFlowId and limit. Errors are returned as
// {"error": ..., "code": ..., "details": {...}}.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Config holds the HTTP listener settings
type Config struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default listener settings. The write timeout
// leaves room for a 60s backtest call.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    75 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks the listener settings
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Addr, err)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("read and write timeouts must be positive")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout cannot be negative")
	}
	return nil
}

// Server runs the API handler until its context is cancelled
type Server struct {
	config *Config
	server *http.Server
	logger logger.Logger
}

// NewServer wraps handler in an http.Server configured from config
func NewServer(config *Config, handler http.Handler) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "api", config.Addr, err).
			WithSuggestion("Check the --addr flag and the api timeouts")
	}

	return &Server{
		config: config,
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		logger: logger.GetGlobalLogger().WithComponent("api"),
	}, nil
}

// Run serves requests until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "listen", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	return nil
}
