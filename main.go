// entry point of the application
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"downloadflow/internal/batch"
	"downloadflow/internal/config"
	"downloadflow/internal/depmanager"
	"downloadflow/internal/downloader"
	httprouter "downloadflow/internal/infrastructure/delivery/http"
	"downloadflow/internal/metadata"
	"downloadflow/internal/observability"
	"downloadflow/internal/proxymgr"
	"downloadflow/internal/runner"
	"downloadflow/internal/service"
	"downloadflow/internal/storage"
	httpserver "downloadflow/pkg/http/server"
	"downloadflow/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Format:    cfg.App.LogFormat,
	})
	if err != nil {
		log.WarnContext(ctx, "logger options invalid; using defaults", slog.Any("error", err))
	}

	depMgr := depmanager.New(log, cfg)
	metrics := observability.New()

	log.InfoContext(ctx, "locating yt-dlp and ffmpeg. it may take some time...")

	depMgr.Start(ctx)

	// nil when no proxies are configured
	proxyMgr := proxymgr.New(log, cfg, metrics)
	proxyMgr.StartHealthChecker(ctx)

	run := runner.New(log)
	dl := downloader.NewYTdlp(log, cfg, depMgr, run, proxyMgr, metrics)
	storer := storage.New(ctx, log, cfg, metrics)

	// Service
	svc := service.New(log, cfg, storer, dl, metrics)
	info := metadata.New(log, cfg, depMgr, run, proxyMgr, metrics)
	packager := batch.New(log, cfg, svc, storer, metrics)

	svc.Start(ctx)

	// HTTP Server
	router := httprouter.New(ctx, log, cfg, svc, info, packager, metrics)

	httpSrv, err := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		log.ErrorContext(ctx, "http server listen", slog.String("addr", cfg.HTTP.Port), slog.Any("error", err))
		stop()
		os.Exit(1) //nolint:gocritic // stop is called above
	}

	log.InfoContext(ctx, "downloadflow started",
		slog.String("addr", httpSrv.Addr()),
		slog.String("scratch", cfg.Dir.Scratch))

	// Waiting for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server stopped", slog.Any("error", err))
		stop()
	}

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error(err.Error())
	}

	svc.Wait()
	storer.Wait()

	log.InfoContext(ctx, "downloadflow shut down gracefully")
}
