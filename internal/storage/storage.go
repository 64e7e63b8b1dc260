// Package storage defines the deployment history model.
package storage

import (
	"context"
	"time"
)

// Status is the outcome of a deployment run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Deployment is one recorded pipeline run.
type Deployment struct {
	ID         string        `db:"id" json:"id"`
	Repo       string        `db:"repo" json:"repo"`
	Stage      string        `db:"stage" json:"stage"`
	Status     Status        `db:"status" json:"status"`
	FailedStep string        `db:"failed_step" json:"failedStep,omitempty"`
	ExitCode   int           `db:"exit_code" json:"exitCode,omitempty"`
	Error      string        `db:"error" json:"error,omitempty"`
	RequestID  string        `db:"request_id" json:"requestId,omitempty"`
	StartedAt  time.Time     `db:"started_at" json:"startedAt"`
	Duration   time.Duration `db:"duration_ns" json:"duration"`
}

// ListOptions filters a history listing. Empty fields match everything.
type ListOptions struct {
	Repo  string
	Stage string
	Limit int
}

// DeploymentStore persists deployment history.
type DeploymentStore interface {
	RecordDeployment(ctx context.Context, d *Deployment) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]*Deployment, error)
	Close() error
}
