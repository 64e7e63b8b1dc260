package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/webxuker/internal/pkg/config"
	"github.com/tjfontaine/webxuker/internal/process"
	"github.com/tjfontaine/webxuker/internal/render"
)

const tracerName = "github.com/tjfontaine/webxuker/internal/deploy"

var (
	// ErrEmptyTemplate is returned when the repository template has no content.
	ErrEmptyTemplate = errors.New("template is empty")
	// ErrShuttingDown is returned for deployments requested after Wait was called.
	ErrShuttingDown = errors.New("deployment pipeline is shutting down")
)

// Pipeline deploys a stage with docker and docker-compose.
type Pipeline struct {
	registry config.DockerRegistry
	runner   process.Runner
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	docker  string
	compose []string
	dryRun  bool

	locks    *keyedMutex
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for timing and the descriptor banner.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithCommands overrides the docker and docker-compose executables.
// compose may carry a leading subcommand, e.g. WithCommands("docker", "docker", "compose").
func WithCommands(docker string, compose ...string) Option {
	return func(p *Pipeline) {
		if docker != "" {
			p.docker = docker
		}
		if len(compose) > 0 {
			p.compose = compose
		}
	}
}

// NewPipeline creates a Pipeline that spawns step commands through runner.
func NewPipeline(registry config.DockerRegistry, runner process.Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		runner:   runner,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		docker:   "docker",
		compose:  []string{"docker-compose"},
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDryRun creates a Pipeline that renders the descriptor and logs every
// action without touching the filesystem or spawning processes.
func NewDryRun(registry config.DockerRegistry, logger *slog.Logger, opts ...Option) *Pipeline {
	opts = append([]Option{WithLogger(logger)}, opts...)
	p := NewPipeline(registry, process.NewDryRunner(logger), opts...)
	p.dryRun = true
	return p
}

// Wait stops accepting deployments and blocks until all in-flight
// deployments return or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type step struct {
	state State
	run   func(ctx context.Context, r *run) error
}

// stepFailure attributes an error to a step other than the one running.
type stepFailure struct {
	state State
	err   error
}

func (e *stepFailure) Error() string {
	return e.err.Error()
}

func (e *stepFailure) Unwrap() error {
	return e.err
}

// run carries the state of one deployment through its steps.
type run struct {
	req        *Request
	descriptor string
	logger     *slog.Logger
}

func (p *Pipeline) steps(req *Request) []step {
	steps := []step{
		{state: StateValidating, run: p.validate},
		{state: StatePreparingWorkdir, run: p.prepareWorkdir},
		{state: StateRenderingTemplate, run: p.writeDescriptor},
		{state: StateLoggingIntoRegistry, run: p.login},
		{state: StatePullingImages, run: p.composeStep("pull", "--quiet")},
		{state: StateRecreatingContainers, run: p.composeStep("up", "--no-start")},
	}
	if len(req.StageConfig.CopyBeforeStart) > 0 {
		steps = append(steps, step{state: StateCopyingArtifacts, run: p.copyArtifacts})
	}
	return append(steps, step{state: StateStartingContainers, run: p.composeStep("start")})
}

// Deploy runs every step for req in order. Deployments of the same
// repository stage are serialised; other stages run concurrently.
func (p *Pipeline) Deploy(ctx context.Context, req *Request) (*Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	logger := p.logger.With(slog.String("repo", req.Repo), slog.String("stage", req.Stage))

	unlock := p.locks.Lock(stageKey(req.Repo, req.Stage))
	defer unlock()

	started := p.now()
	ctx, span := p.tracer.Start(ctx, "deploy",
		trace.WithAttributes(
			attribute.String("deploy.repo", req.Repo),
			attribute.String("deploy.stage", req.Stage),
			attribute.Bool("deploy.dry_run", p.dryRun),
		))
	defer span.End()

	logger.Info("deployment started", slog.String("work_dir", req.StageConfig.WorkDir))

	r := &run{req: req, logger: logger}
	for _, s := range p.steps(req) {
		if err := p.runStep(ctx, r, s); err != nil {
			state := s.state
			var failure *stepFailure
			if errors.As(err, &failure) {
				state, err = failure.state, failure.err
			}
			stepErr := &StepError{Repo: req.Repo, Stage: req.Stage, Step: state, Err: err}
			span.RecordError(stepErr)
			span.SetStatus(codes.Error, string(state))
			logger.Error("deployment failed",
				slog.String("step", string(state)),
				slog.String("state", string(StateFailed)),
				slog.String("error", err.Error()),
				slog.Duration("duration", p.now().Sub(started)))
			return nil, stepErr
		}
	}

	res := &Result{StartedAt: started, Duration: p.now().Sub(started)}
	logger.Info("deployment completed",
		slog.String("state", string(StateCompleted)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) runStep(ctx context.Context, r *run, s step) error {
	ctx, span := p.tracer.Start(ctx, "deploy."+string(s.state))
	defer span.End()

	r.logger.Debug("step started", slog.String("step", string(s.state)))
	if err := s.run(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.logger.Info("step completed", slog.String("step", string(s.state)))
	return nil
}

// validate renders the descriptor in memory so that a broken template fails
// before the work directory is touched. Render errors are reported under
// RenderingTemplate.
func (p *Pipeline) validate(_ context.Context, r *run) error {
	if r.req.Template == "" {
		return ErrEmptyTemplate
	}
	descriptor, err := render.Render(r.req.Template, r.req.StageConfig.Variables, p.now())
	if err != nil {
		return &stepFailure{state: StateRenderingTemplate, err: err}
	}
	if err := render.ValidateDescriptor(descriptor); err != nil {
		return &stepFailure{state: StateRenderingTemplate, err: err}
	}
	r.descriptor = descriptor
	return nil
}

func (p *Pipeline) prepareWorkdir(_ context.Context, r *run) error {
	dir := r.req.StageConfig.WorkDir
	if p.dryRun {
		r.logger.Info("dry run: work directory not created", slog.String("work_dir", dir))
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	return nil
}

func (p *Pipeline) writeDescriptor(_ context.Context, r *run) error {
	path := filepath.Join(r.req.StageConfig.WorkDir, render.DescriptorFile)
	if p.dryRun {
		r.logger.Info("dry run: descriptor not written",
			slog.String("path", path),
			slog.Int("bytes", len(r.descriptor)))
		return nil
	}
	if err := os.WriteFile(path, []byte(r.descriptor), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

func (p *Pipeline) login(ctx context.Context, r *run) error {
	return p.exec(ctx, r, process.Command{
		Name:  p.docker,
		Args:  []string{"login", "--username", p.registry.Username, "--password-stdin", p.registry.Host},
		Stdin: p.registry.Password,
	})
}

func (p *Pipeline) composeStep(args ...string) func(context.Context, *run) error {
	return func(ctx context.Context, r *run) error {
		cmdArgs := append(append([]string{}, p.compose[1:]...), args...)
		return p.exec(ctx, r, process.Command{Name: p.compose[0], Args: cmdArgs})
	}
}

func (p *Pipeline) copyArtifacts(ctx context.Context, r *run) error {
	for _, c := range r.req.StageConfig.CopyBeforeStart {
		if err := p.exec(ctx, r, process.Command{Name: p.docker, Args: []string{"cp", c.From, c.To}}); err != nil {
			return err
		}
	}
	return nil
}

// exec runs cmd in the stage work directory and maps a non-zero exit to
// a CommandFailureError.
func (p *Pipeline) exec(ctx context.Context, r *run, cmd process.Command) error {
	cmd.Dir = r.req.StageConfig.WorkDir
	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandFailureError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return nil
}

var _ Deployer = (*Pipeline)(nil)
