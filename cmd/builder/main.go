package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/edgeship/internal/artifact"
	"github.com/splax/edgeship/internal/bus"
	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/service/build"
	"github.com/splax/edgeship/internal/workspace"
	"github.com/splax/edgeship/pkg/config"
	"github.com/splax/edgeship/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run executes one deployment and returns the process exit code.
func run() int {
	cfg := config.LoadBuilderConfig()
	log := logger.New("builder", cfg.Environment, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RepositoryURL == "" || cfg.DeploymentID == "" {
		log.Error("GIT_REPOSITORY_URL and PROJECT_ID must be set")
		return 1
	}

	logBus, err := bus.Open(ctx, cfg.BusURL)
	if err != nil {
		log.Error("failed to connect to bus", "error", err)
		return 1
	}
	defer logBus.Close()

	store, err := artifact.NewS3Store(ctx, artifact.S3Options{
		Bucket:         cfg.S3Bucket,
		Region:         cfg.S3Region,
		Endpoint:       cfg.S3Endpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		ForcePathStyle: cfg.S3ForcePathStyle,
	})
	if err != nil {
		log.Error("failed to configure artifact store", "error", err)
		return 1
	}

	workspaceManager, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		return 1
	}

	buildSvc := build.New(logBus, store, workspaceManager, log, cfg)
	log.Info("build worker starting", "deployment_id", cfg.DeploymentID)
	if _, err := buildSvc.Run(ctx, domain.Deployment{
		ID:        cfg.DeploymentID,
		SourceURL: cfg.RepositoryURL,
		Status:    domain.StatusQueued,
	}); err != nil {
		return 1
	}
	return 0
}
