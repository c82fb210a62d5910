// Package launcher starts isolated build workers. A launch returns as soon as the backend
// accepted the request; there is no completion notification. Callers that need to know
// how a build ended subscribe to its log channel.
package launcher

import (
	"context"
	"fmt"
)

// Environment variable names carrying the execution context into a build worker.
const (
	EnvRepositoryURL = "GIT_REPOSITORY_URL"
	EnvDeploymentID  = "PROJECT_ID"
)

// Job is the execution context handed to one build worker.
type Job struct {
	DeploymentID string
	SourceURL    string
}

// Env renders the job as KEY=VALUE pairs.
func (j Job) Env() []string {
	return []string{
		EnvRepositoryURL + "=" + j.SourceURL,
		EnvDeploymentID + "=" + j.DeploymentID,
	}
}

// Launched is the success arm of a launch: the backend's identifier for the worker.
type Launched struct {
	ID string
}

// LaunchError is the failure arm of a launch.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return "launch failed: " + e.Reason
	}
	return fmt.Sprintf("launch failed: %s: %v", e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Launcher starts exactly one build worker per call. A non-nil error is always a *LaunchError.
type Launcher interface {
	Launch(ctx context.Context, job Job) (Launched, error)
}
