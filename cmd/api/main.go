package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/edgeship/internal/bus"
	"github.com/splax/edgeship/internal/channel"
	httpx "github.com/splax/edgeship/internal/http"
	"github.com/splax/edgeship/internal/launcher"
	"github.com/splax/edgeship/internal/service/dispatch"
	"github.com/splax/edgeship/internal/service/relay"
	"github.com/splax/edgeship/internal/ws"
	"github.com/splax/edgeship/pkg/config"
	"github.com/splax/edgeship/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", cfg.Environment, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logBus, err := bus.Open(ctx, cfg.BusURL)
	if err != nil {
		log.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer logBus.Close()

	launch, closeLauncher, err := newLauncher(ctx, cfg)
	if err != nil {
		log.Error("failed to configure launch backend", "backend", cfg.LaunchBackend, "error", err)
		os.Exit(1)
	}
	defer closeLauncher()

	logHub := ws.NewHub()
	defer logHub.Close()
	relaySvc := relay.New(logBus, logHub, log)
	if err := relaySvc.Start(ctx); err != nil {
		log.Error("relay subscription failed", "error", err)
		os.Exit(1)
	}
	defer relaySvc.Close()

	dispatchSvc := dispatch.New(launch, log, cfg)

	limiter := httpx.NewMemoryLimiter()
	if addr := strings.TrimSpace(cfg.LimiterRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisLimiter(ctx, addr, cfg.LimiterRedisPass, cfg.LimiterRedisDB, log)
		if err != nil {
			log.Warn("redis limiter unavailable, build locks are local to this replica", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, dispatchSvc, httpx.RouterOptions{
		Limiter:       limiter,
		DispatchQuota: cfg.DispatchQuota,
		BuildLock:     cfg.BuildLockWindow,
		BusHealth:     logBus.Ping,
	})
	defer router.Close()
	locks, err := logBus.PSubscribe(ctx, channel.Pattern, router.ReleaseFinished)
	if err != nil {
		log.Error("build lock subscription failed", "error", err)
		os.Exit(1)
	}
	defer locks.Close()
	relayRouter := httpx.NewRelayRouter(log, relaySvc, httpx.RelayOptions{
		Heartbeat:  cfg.RelayHeartbeat,
		SendBuffer: cfg.RelaySendBuffer,
		BusHealth:  logBus.Ping,
	})

	servers := []*http.Server{
		{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.RelayAddr, Handler: relayRouter, ReadHeaderTimeout: 5 * time.Second},
	}

	errorCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("server starting", "addr", srv.Addr)
			errorCh <- srv.ListenAndServe()
		}(srv)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	log.Info("api server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// newLauncher selects the build worker backend named by LAUNCH_BACKEND.
func newLauncher(ctx context.Context, cfg config.APIConfig) (launcher.Launcher, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LaunchBackend)) {
	case "", "docker":
		d, err := launcher.NewDocker(launcher.DockerOptions{
			Host:        cfg.DockerHost,
			Image:       cfg.BuilderImage,
			Network:     cfg.BuilderNetwork,
			Passthrough: cfg.BuilderEnv,
		})
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.Ping(pingCtx); err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case "ecs":
		e, err := launcher.NewECS(ctx, launcher.ECSOptions{
			Region:         cfg.AWSRegion,
			AccessKey:      cfg.AWSAccessKey,
			SecretKey:      cfg.AWSSecretKey,
			Cluster:        cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDefinition,
			ContainerName:  cfg.ECSContainerName,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
			AssignPublicIP: cfg.ECSAssignPublicIP,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, func() {}, nil
	default:
		return nil, nil, errors.New("unknown launch backend " + cfg.LaunchBackend)
	}
}
