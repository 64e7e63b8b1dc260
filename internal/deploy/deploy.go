// Package deploy runs the ordered docker-compose deployment of one stage.
//
// A deployment is an explicit list of typed steps executed strictly in order.
// Each step either succeeds or returns a typed error, and the first failure
// aborts the run; no step is retried.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tjfontaine/webxuker/internal/pkg/config"
)

// State names a position in the deployment pipeline.
type State string

const (
	StateValidating           State = "Validating"
	StatePreparingWorkdir     State = "PreparingWorkdir"
	StateRenderingTemplate    State = "RenderingTemplate"
	StateLoggingIntoRegistry  State = "LoggingIntoRegistry"
	StatePullingImages        State = "PullingImages"
	StateRecreatingContainers State = "RecreatingContainers"
	StateCopyingArtifacts     State = "CopyingArtifacts"
	StateStartingContainers   State = "StartingContainers"
	StateCompleted            State = "Completed"
	StateFailed               State = "Failed"
)

// Request is a single deployment of one repository stage.
type Request struct {
	Repo        string
	Stage       string
	RepoConfig  config.RepoConfig
	StageConfig config.StageConfig
	// Template is the content of the repository template file.
	Template string
}

// Result describes a completed deployment.
type Result struct {
	StartedAt time.Time
	Duration  time.Duration
}

// Deployer deploys one repository stage.
type Deployer interface {
	Deploy(ctx context.Context, req *Request) (*Result, error)
}

// StepError wraps the failure of a pipeline step with its context.
type StepError struct {
	Repo  string
	Stage string
	Step  State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deploy %s/%s: step %s: %v", e.Repo, e.Stage, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CommandFailureError is returned when a step command exits non-zero.
// Stdout and Stderr hold the captured tail of the process output.
type CommandFailureError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandFailureError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// IsCommandFailure reports whether err is or wraps a CommandFailureError.
func IsCommandFailure(err error) bool {
	var cmdErr *CommandFailureError
	return errors.As(err, &cmdErr)
}

// FailedStep returns the step that failed, or "" when err is not a StepError.
func FailedStep(err error) State {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
