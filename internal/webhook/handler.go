// Package webhook exposes the HTTP surface that triggers deployments.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/webxuker/internal/compose"
	"github.com/tjfontaine/webxuker/internal/deploy"
	"github.com/tjfontaine/webxuker/internal/pkg/config"
	"github.com/tjfontaine/webxuker/internal/process"
	"github.com/tjfontaine/webxuker/internal/render"
	"github.com/tjfontaine/webxuker/internal/server"
	"github.com/tjfontaine/webxuker/internal/storage"
)

// ContainerInspector reports the containers of a compose project.
type ContainerInspector interface {
	ProjectContainers(ctx context.Context, project string) ([]compose.Container, error)
}

// Handler serves the webhook routes against an immutable configuration.
type Handler struct {
	cfg       *config.Config
	deployer  deploy.Deployer
	logger    *slog.Logger
	history   storage.DeploymentStore
	inspector ContainerInspector
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithHistory records every deployment run in store and enables the history route.
func WithHistory(store storage.DeploymentStore) Option {
	return func(h *Handler) {
		h.history = store
	}
}

// WithInspector enables the container status route.
func WithInspector(inspector ContainerInspector) Option {
	return func(h *Handler) {
		h.inspector = inspector
	}
}

// WithClock overrides the time source for response timestamps and timing.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, deployer deploy.Deployer, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:      cfg,
		deployer: deployer,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the webhook routes on r. Deployments run without a
// deadline; the read-only routes are bounded by server.DefaultTimeout.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/webhook/deploy", h.handleDeploy)
	r.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(server.DefaultTimeout))
		r.Get("/webhook/deployments", h.handleDeployments)
		r.Get("/webhook/status", h.handleStatus)
	})
}

// ValidationError is a client input problem detected before deployment.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TemplateError reports a template file that cannot be used.
type TemplateError struct {
	Repo string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template of repository %q: %v", e.Repo, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

var errTemplateEmpty = errors.New("template file is empty")

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repo, stage, err := stageParams(r.URL.Query())
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err, nil)
		return
	}
	server.AddLogField(ctx, "repo", repo)
	server.AddLogField(ctx, "stage", stage)

	repoCfg, stageCfg, err := h.cfg.Lookup(repo, stage)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err, nil)
		return
	}

	template, err := readTemplate(repo, repoCfg.Template)
	if err != nil {
		h.logger.Error("template unavailable",
			slog.String("repo", repo),
			slog.String("stage", stage),
			slog.String("template", repoCfg.Template),
			slog.String("error", err.Error()))
		h.respondError(w, r, http.StatusInternalServerError, err, nil)
		return
	}

	started := h.now()
	req := &deploy.Request{
		Repo:        repo,
		Stage:       stage,
		RepoConfig:  repoCfg,
		StageConfig: stageCfg,
		Template:    template,
	}
	// A disconnecting caller must not abort a half-finished deployment.
	_, err = h.deployer.Deploy(context.WithoutCancel(ctx), req)
	elapsed := h.now().Sub(started)

	h.record(ctx, req, started, elapsed, err)

	if err != nil {
		h.logFailure(repo, stage, err)
		h.respondError(w, r, statusFor(err), err, &elapsed)
		return
	}

	writeJSON(w, http.StatusOK, deployResponse{
		OK:        true,
		Time:      formatTime(h.now()),
		TimeSpent: elapsed.Seconds(),
	})
}

// stageParams extracts repo and stage, each required exactly once and non-empty.
func stageParams(q url.Values) (string, string, error) {
	var values [2]string
	for i, name := range []string{"repo", "stage"} {
		v, ok := q[name]
		switch {
		case !ok || len(v) == 0 || v[0] == "":
			return "", "", &ValidationError{Message: fmt.Sprintf("query parameter %q is required", name)}
		case len(v) > 1:
			return "", "", &ValidationError{Message: fmt.Sprintf("query parameter %q must be given once", name)}
		}
		values[i] = v[0]
	}
	return values[0], values[1], nil
}

func readTemplate(repo, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &TemplateError{Repo: repo, Err: errors.New("template file does not exist")}
		}
		return "", &TemplateError{Repo: repo, Err: errors.New("template file is not readable")}
	}
	if len(data) == 0 {
		return "", &TemplateError{Repo: repo, Err: errTemplateEmpty}
	}
	return string(data), nil
}

// statusFor maps a deployment error to an HTTP status: problems in the
// caller's input are 400, everything else is a server side failure.
func statusFor(err error) int {
	var (
		validationErr *ValidationError
		missingErr    *render.MissingVariableError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &missingErr),
		errors.Is(err, config.ErrUnknownRepo),
		errors.Is(err, config.ErrUnknownStage):
		return http.StatusBadRequest
	case errors.Is(err, deploy.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) logFailure(repo, stage string, err error) {
	attrs := []any{
		slog.String("repo", repo),
		slog.String("stage", stage),
		slog.String("step", string(deploy.FailedStep(err))),
		slog.String("error", err.Error()),
	}
	var cmdErr *deploy.CommandFailureError
	if errors.As(err, &cmdErr) {
		attrs = append(attrs,
			slog.String("command", cmdErr.Command),
			slog.Int("exit_code", cmdErr.ExitCode),
			slog.String("stdout", cmdErr.Stdout),
			slog.String("stderr", cmdErr.Stderr))
	}
	if process.IsSpawnError(err) {
		attrs = append(attrs, slog.Bool("spawn_failed", true))
	}
	h.logger.Error("deployment failed", attrs...)
}

func (h *Handler) record(ctx context.Context, req *deploy.Request, started time.Time, elapsed time.Duration, deployErr error) {
	if h.history == nil {
		return
	}

	d := &storage.Deployment{
		Repo:      req.Repo,
		Stage:     req.Stage,
		Status:    storage.StatusSucceeded,
		RequestID: server.GetRequestID(ctx),
		StartedAt: started,
		Duration:  elapsed,
	}
	if deployErr != nil {
		d.Status = storage.StatusFailed
		d.FailedStep = string(deploy.FailedStep(deployErr))
		d.Error = deployErr.Error()
		var cmdErr *deploy.CommandFailureError
		if errors.As(deployErr, &cmdErr) {
			d.ExitCode = cmdErr.ExitCode
		}
	}

	if err := h.history.RecordDeployment(context.WithoutCancel(ctx), d); err != nil {
		h.logger.Error("failed to record deployment",
			slog.String("repo", req.Repo),
			slog.String("stage", req.Stage),
			slog.String("error", err.Error()))
		return
	}
	server.AddLogField(ctx, "deployment_id", d.ID)
}
