// Package webxuker provides the public API for embedding the webhook
// deployment service.
package webxuker

import (
	"github.com/tjfontaine/webxuker/internal/runtime"
)

// Service is a webxuker instance.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// DockerClient is the Docker API used for container status.
type DockerClient = runtime.DockerClient

// New creates a new Service with the given options.
// Example:
//
//	svc, err := webxuker.New(
//	    webxuker.WithFileConfig("webxuker.yml"),
//	    webxuker.WithSQLite("./data/webxuker.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Configuration
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// History
	WithSQLite       = runtime.WithSQLite
	WithHistoryStore = runtime.WithHistoryStore

	// Docker
	WithDockerFromEnv = runtime.WithDockerFromEnv
	WithDockerClient  = runtime.WithDockerClient

	// Execution
	WithRunner = runtime.WithRunner
	WithDryRun = runtime.WithDryRun

	// Logging
	WithLogger = runtime.WithLogger
)
