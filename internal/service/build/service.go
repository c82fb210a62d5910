// Package build runs the single-shot build worker pipeline: fetch the source, run the build
// tool, collect its output and upload every file to the artifact store, publishing progress
// to the deployment's log channel throughout.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/splax/edgeship/internal/artifact"
	"github.com/splax/edgeship/internal/bus"
	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/git"
	"github.com/splax/edgeship/internal/slug"
	"github.com/splax/edgeship/internal/workspace"
	"github.com/splax/edgeship/pkg/config"
)

// Progress lines published in addition to the build tool's own output.
const (
	LineBuildStarted   = "Build Started..."
	LineBuildComplete  = "Build Complete"
	LineUploadStarting = "Starting to upload"
)

// Fetcher materialises the source tree of repoURL in dest.
type Fetcher func(ctx context.Context, repoURL, dest string) error

// Report summarises one worker run.
type Report struct {
	DeploymentID string
	Status       domain.Status
	Uploaded     int
	Failed       int
}

// Service executes a deployment build. One Service runs one deployment per process.
type Service struct {
	publisher bus.Publisher
	store     artifact.Store
	workspace *workspace.Manager
	logger    *slog.Logger
	fetch     Fetcher
	runner    Runner

	buildCommand   string
	outputDir      string
	gitTimeout     time.Duration
	publishTimeout time.Duration
	concurrency    int
	keepWorkspace  bool
}

// New wires the pipeline with git and a shell runner.
func New(publisher bus.Publisher, store artifact.Store, ws *workspace.Manager, logger *slog.Logger, cfg config.BuilderConfig) *Service {
	command := strings.TrimSpace(cfg.BuildCommand)
	if command == "" {
		command = "npm install && npm run build"
	}
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = "dist"
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	gitTimeout := cfg.GitTimeout
	if gitTimeout <= 0 {
		gitTimeout = 2 * time.Minute
	}
	return &Service{
		publisher:      publisher,
		store:          store,
		workspace:      ws,
		logger:         logger,
		fetch:          git.Clone,
		runner:         ShellRunner{},
		buildCommand:   command,
		outputDir:      outputDir,
		gitTimeout:     gitTimeout,
		publishTimeout: cfg.PublishTimeout,
		concurrency:    concurrency,
		keepWorkspace:  cfg.KeepWorkspace,
	}
}

// Run executes every stage for d and publishes exactly one terminal line. A nil error means
// the deployment finished, possibly with individual upload failures counted in the report.
// Uploads that all fail, or that are cut short by ctx, fail the run.
func (s *Service) Run(ctx context.Context, d domain.Deployment) (Report, error) {
	report := Report{DeploymentID: d.ID, Status: domain.StatusBuilding}
	if err := slug.Validate(d.ID); err != nil {
		report.Status = domain.StatusFailed
		return report, fmt.Errorf("%w: deployment id: %v", domain.ErrInvalidRequest, err)
	}
	stream := newLogStream(s.publisher, s.logger, d.ID, s.publishTimeout)
	defer stream.Close()

	logger := s.logger.With("deployment_id", d.ID)
	start := time.Now()
	err := s.run(ctx, stream, d, &report)
	if err != nil {
		report.Status = domain.StatusFailed
		stream.Finish(domain.FailedPrefix + err.Error())
		logger.Error("build failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return report, err
	}
	report.Status = domain.StatusDone
	stream.Finish(domain.DoneLine)
	logger.Info("build finished", "uploaded", report.Uploaded, "failed_uploads", report.Failed, "duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

func (s *Service) run(ctx context.Context, stream *logStream, d domain.Deployment, report *Report) error {
	dir, err := s.workspace.Prepare(d.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	if !s.keepWorkspace {
		defer func() {
			if err := s.workspace.Cleanup(dir); err != nil {
				s.logger.Warn("workspace cleanup failed", "deployment_id", d.ID, "error", err)
			}
		}()
	}

	stream.Publish("Cloning " + git.Redact(d.SourceURL))
	fetchCtx, cancel := context.WithTimeout(ctx, s.gitTimeout)
	err = s.fetch(fetchCtx, d.SourceURL, dir)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}

	stream.Publish(LineBuildStarted)
	err = s.runner.Run(ctx, dir, s.buildCommand, func(src Stream, line string) {
		if src == Stderr {
			line = domain.StderrPrefix + line
		}
		stream.Publish(line)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildToolFailed, err)
	}
	stream.Publish(LineBuildComplete)

	outDir, err := s.workspace.OutputDir(dir, s.outputDir)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildOutputMissing, err)
	}
	files, skipped, err := artifact.Walk(os.DirFS(outDir))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrBuildOutputMissing, s.outputDir, err)
	}

	stream.Publish(LineUploadStarting)
	for _, sk := range skipped {
		stream.Publish(fmt.Sprintf("failed to upload %s/: %v", sk.Path, sk.Err))
		s.logger.Warn("artifact directory unreadable", "deployment_id", d.ID, "path", sk.Path, "error", sk.Err)
	}
	uploaded, failed := s.upload(ctx, stream, d.ID, outDir, files)
	failed += len(skipped)
	report.Uploaded = uploaded
	report.Failed = failed
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: upload interrupted after %d of %d files: %v", domain.ErrUploadPartialFailure, uploaded, len(files), err)
	}
	if failed > 0 && uploaded == 0 {
		return fmt.Errorf("%w: all %d files failed to upload", domain.ErrUploadPartialFailure, failed)
	}
	if failed > 0 {
		stream.Publish(fmt.Sprintf("upload finished with %d failed files", failed))
		s.logger.Warn("artifact upload incomplete", "deployment_id", d.ID, "failed", failed, "error", domain.ErrUploadPartialFailure)
	}
	return nil
}

// upload puts every file with at most s.concurrency requests in flight and returns once all
// attempts have finished.
func (s *Service) upload(ctx context.Context, stream *logStream, deploymentID, root string, files []string) (int, int) {
	var (
		uploaded atomic.Int64
		failed   atomic.Int64
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, s.concurrency)
	for _, rel := range files {
		sem <- struct{}{}
		wg.Add(1)
		go func(rel string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := s.uploadFile(ctx, stream, deploymentID, root, rel); err != nil {
				failed.Add(1)
				stream.Publish(fmt.Sprintf("failed to upload %s: %v", rel, err))
				s.logger.Warn("artifact upload failed", "deployment_id", deploymentID, "path", rel, "error", err)
				return
			}
			uploaded.Add(1)
		}(rel)
	}
	wg.Wait()
	return int(uploaded.Load()), int(failed.Load())
}

func (s *Service) uploadFile(ctx context.Context, stream *logStream, deploymentID, root, rel string) error {
	stream.Publish("uploading " + rel)
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	entry := domain.ArtifactEntry{
		DeploymentID: deploymentID,
		RelativePath: rel,
		Body:         f,
		Size:         info.Size(),
		ContentType:  artifact.ContentType(rel),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return err
	}
	stream.Publish("uploaded " + rel)
	return nil
}
