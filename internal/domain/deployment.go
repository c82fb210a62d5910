package domain

import "io"

// Status is the inferred lifecycle state of a deployment. It is never persisted.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// DeploymentRequest is the immutable input accepted by the orchestrator.
type DeploymentRequest struct {
	SourceURL string `json:"gitURL"`
	Slug      string `json:"slug,omitempty"`
}

// Deployment captures one build+serve unit identified by its slug.
type Deployment struct {
	ID        string
	SourceURL string
	Status    Status
}

// ArtifactEntry is a single built file written to the artifact store.
type ArtifactEntry struct {
	DeploymentID string
	RelativePath string
	Body         io.Reader
	Size         int64
	ContentType  string
}
