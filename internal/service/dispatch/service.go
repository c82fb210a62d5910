package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/git"
	"github.com/splax/edgeship/internal/launcher"
	"github.com/splax/edgeship/internal/slug"
	"github.com/splax/edgeship/pkg/config"
)

var scpLikeURL = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._/~-]+$`)

var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"ssh":   {},
	"git":   {},
}

// Dispatched is the tracking handle returned to the caller.
type Dispatched struct {
	DeploymentID string `json:"projectSlug"`
	TrackingURL  string `json:"url"`
}

// Service accepts deployment requests and launches one build worker per request. It keeps
// no state about the deployment once the launch call returns.
type Service struct {
	launcher    launcher.Launcher
	logger      *slog.Logger
	urlTemplate string
	timeout     time.Duration
	newSlug     func() (string, error)
}

// New constructs a dispatch service.
func New(l launcher.Launcher, logger *slog.Logger, cfg config.APIConfig) Service {
	tmpl := strings.TrimSpace(cfg.PublicURLTemplate)
	if tmpl == "" || !strings.Contains(tmpl, "%s") {
		tmpl = "http://%s.localhost:8000"
	}
	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Service{
		launcher:    l,
		logger:      logger,
		urlTemplate: tmpl,
		timeout:     timeout,
		newSlug:     slug.Generate,
	}
}

// Dispatch validates req, assigns the deployment identifier and launches the build worker.
// It returns before the build starts running.
func (s Service) Dispatch(ctx context.Context, req domain.DeploymentRequest) (Dispatched, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if err := ValidateSourceURL(sourceURL); err != nil {
		return Dispatched{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	deploymentID := strings.TrimSpace(req.Slug)
	if deploymentID != "" {
		if err := slug.Validate(deploymentID); err != nil {
			return Dispatched{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
	} else {
		generated, err := s.newSlug()
		if err != nil {
			return Dispatched{}, fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
		}
		deploymentID = generated
	}
	if s.launcher == nil {
		return Dispatched{}, fmt.Errorf("%w: launcher not configured", domain.ErrDispatchFailed)
	}

	launchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	launched, err := s.launcher.Launch(launchCtx, launcher.Job{DeploymentID: deploymentID, SourceURL: sourceURL})
	if err != nil {
		s.logger.Error("build worker launch failed", "deployment_id", deploymentID, "error", err)
		return Dispatched{}, errors.Join(domain.ErrDispatchFailed, err)
	}
	s.logger.Info("build worker launched", "deployment_id", deploymentID, "source_url", git.Redact(sourceURL), "launch_id", launched.ID)

	return Dispatched{
		DeploymentID: deploymentID,
		TrackingURL:  s.TrackingURL(deploymentID),
	}, nil
}

// TrackingURL returns the public URL a deployment is served from.
func (s Service) TrackingURL(deploymentID string) string {
	return fmt.Sprintf(s.urlTemplate, deploymentID)
}

// ValidateSourceURL accepts absolute http(s)/ssh/git URLs with a host and scp-like
// "user@host:path" locations.
func ValidateSourceURL(raw string) error {
	if raw == "" {
		return errors.New("gitURL is required")
	}
	if strings.HasPrefix(raw, "-") || strings.ContainsAny(raw, " \t\r\n") {
		return errors.New("gitURL contains illegal characters")
	}
	if scpLikeURL.MatchString(raw) {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("gitURL is not a valid url: %w", err)
	}
	if _, ok := allowedSchemes[strings.ToLower(parsed.Scheme)]; !ok {
		return fmt.Errorf("gitURL scheme %q is not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("gitURL must include a host")
	}
	return nil
}
