package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/edgeship/internal/proxy"
	"github.com/splax/edgeship/pkg/config"
	"github.com/splax/edgeship/pkg/logger"
)

func main() {
	cfg := config.LoadProxyConfig()
	log := logger.New("proxy", cfg.Environment, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := proxy.NewBaseResolver(cfg.BasePath)
	if err != nil {
		log.Error("invalid BASE_PATH", "base_path", cfg.BasePath, "error", err)
		os.Exit(1)
	}
	handler := proxy.NewHandler(resolver, log, proxy.Options{UpstreamTimeout: cfg.UpstreamTimeout})

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	errorCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("reverse proxy starting", "addr", srv.Addr, "base_path", cfg.BasePath)
			errorCh <- srv.ListenAndServe()
		}(srv)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
			}
		}
		log.Info("reverse proxy stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
