package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/webxuker/internal/compose"
	"github.com/tjfontaine/webxuker/internal/pkg/config"
	"github.com/tjfontaine/webxuker/internal/process"
	"github.com/tjfontaine/webxuker/internal/storage"
	"github.com/tjfontaine/webxuker/internal/storage/sqlite"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig loads and validates the configuration file at path.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfig uses an already validated configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithSQLite records deployment history in the SQLite database at path.
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite history store: %w", err)
		}
		s.history = store
		return nil
	}
}

// WithHistoryStore sets a custom history store.
func WithHistoryStore(store storage.DeploymentStore) Option {
	return func(s *Service) error {
		s.history = store
		return nil
	}
}

// WithDockerFromEnv enables container status using the Docker daemon
// described by the environment (DOCKER_HOST and friends).
func WithDockerFromEnv() Option {
	return func(s *Service) error {
		cli, err := compose.NewDockerClient()
		if err != nil {
			return fmt.Errorf("create docker client: %w", err)
		}
		s.docker = cli
		return nil
	}
}

// WithDockerClient sets a custom Docker client.
func WithDockerClient(cli DockerClient) Option {
	return func(s *Service) error {
		s.docker = cli
		return nil
	}
}

// WithRunner sets the process runner used by deployment steps.
func WithRunner(runner process.Runner) Option {
	return func(s *Service) error {
		s.runner = runner
		return nil
	}
}

// WithDryRun renders descriptors and logs commands without executing them.
func WithDryRun(enabled bool) Option {
	return func(s *Service) error {
		s.dryRun = enabled
		return nil
	}
}
