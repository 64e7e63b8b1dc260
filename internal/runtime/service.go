// Package runtime wires the webxuker components together and manages the
// service lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/webxuker/internal/compose"
	"github.com/tjfontaine/webxuker/internal/deploy"
	"github.com/tjfontaine/webxuker/internal/pkg/config"
	"github.com/tjfontaine/webxuker/internal/process"
	"github.com/tjfontaine/webxuker/internal/server"
	"github.com/tjfontaine/webxuker/internal/storage"
	"github.com/tjfontaine/webxuker/internal/webhook"
)

// Service is a running webxuker instance: one HTTP listener driving one
// deployment pipeline against an immutable configuration.
type Service struct {
	// Dependencies (injected via options)
	cfg     *config.Config
	logger  *slog.Logger
	runner  process.Runner
	history storage.DeploymentStore
	docker  DockerClient
	dryRun  bool

	pipeline *deploy.Pipeline
	server   *server.Server

	mu      sync.Mutex
	started bool
	done    chan error
}

// DockerClient is the Docker API used for container status, closed on shutdown.
type DockerClient interface {
	compose.DockerClient
	Close() error
}

// New creates a Service with the given options. A configuration is required.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
		done:   make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		return nil, errors.New("configuration required (use WithFileConfig or WithConfig)")
	}

	if s.dryRun {
		s.logger.Info("dry run enabled, no files are written and no commands are spawned")
		s.pipeline = deploy.NewDryRun(s.cfg.DockerRegistry, s.logger)
	} else {
		runner := s.runner
		if runner == nil {
			runner = process.NewExecRunner(s.logger)
		}
		s.pipeline = deploy.NewPipeline(s.cfg.DockerRegistry, runner, deploy.WithLogger(s.logger))
	}

	var handlerOpts []webhook.Option
	if s.history != nil {
		handlerOpts = append(handlerOpts, webhook.WithHistory(s.history))
	} else {
		s.logger.Info("no history store configured, deployment history is disabled")
	}
	if s.docker != nil {
		handlerOpts = append(handlerOpts, webhook.WithInspector(compose.NewInspector(s.docker)))
	}

	s.server = server.New(s.cfg.Incoming.Addr(), s.logger)
	webhook.NewHandler(s.cfg, s.pipeline, s.logger, handlerOpts...).Routes(s.server.Router)

	return s, nil
}

// Handler returns the HTTP handler serving all routes.
func (s *Service) Handler() http.Handler {
	return s.server.Router
}

// Start begins serving in the background. Listener failures are reported
// on Done.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("service already started")
	}
	s.started = true

	go func() {
		s.done <- s.server.Start()
	}()

	s.logger.Info("webxuker started",
		slog.String("addr", s.cfg.Incoming.Addr()),
		slog.Int("repositories", len(s.cfg.Repositories)),
		slog.Bool("dry_run", s.dryRun))
	return nil
}

// Done delivers the result of the HTTP listener once it stops.
func (s *Service) Done() <-chan error {
	return s.done
}

// Shutdown stops the listener, waits for in-flight deployments until ctx
// expires, then releases the history store and Docker client.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down webxuker")

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := s.pipeline.Wait(ctx); err != nil {
		s.logger.Error("deployments still running at shutdown", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("wait for deployments: %w", err))
	}

	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Error("failed to close history store", slog.String("error", err.Error()))
		}
	}
	if s.docker != nil {
		if err := s.docker.Close(); err != nil {
			s.logger.Error("failed to close docker client", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("webxuker shutdown complete")
	return errors.Join(errs...)
}
