//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"downloadflow/internal/batch"
	"downloadflow/internal/config"
	"downloadflow/internal/depmanager"
	"downloadflow/internal/downloader"
	httprouter "downloadflow/internal/infrastructure/delivery/http"
	"downloadflow/internal/metadata"
	"downloadflow/internal/observability"
	"downloadflow/internal/runner"
	"downloadflow/internal/service"
	"downloadflow/internal/storage"
)

// envVideoURL names a short public video the suite downloads for real.
const envVideoURL = "DOWNLOADFLOW_IT_VIDEO_URL"

type fixture struct {
	cfg      *config.Config
	svc      service.Downloads
	info     *metadata.Fetcher
	server   *httptest.Server
	videoURL string
}

// newFixture wires the whole stack against the yt-dlp and ffmpeg found on this machine.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	videoURL := os.Getenv(envVideoURL)
	if videoURL == "" {
		t.Skipf("%s is not set", envVideoURL)
	}

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	cfg.Dir.Scratch = t.TempDir()
	cfg.Dir.AppPath = ""
	cfg.Job.Timeout = 5 * time.Minute
	cfg.HTTP.RateLimitRPM = 0
	cfg.Storage.CleanupInterval = 0

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if testing.Verbose() {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics := observability.NewWithRegisterer(nil)
	depMgr := depmanager.New(log, cfg)
	depMgr.Start(ctx)

	run := runner.New(log)
	stg := storage.New(ctx, log, cfg, metrics)
	svc := service.New(log, cfg, stg, downloader.NewYTdlp(log, cfg, depMgr, run, nil, metrics), metrics)
	info := metadata.New(log, cfg, depMgr, run, nil, metrics)

	svc.Start(ctx)

	t.Cleanup(func() {
		cancel()
		svc.Wait()
		stg.Wait()
	})

	srv := httptest.NewServer(httprouter.New(ctx, log, cfg, svc, info, batch.New(log, cfg, svc, stg, metrics), metrics))
	t.Cleanup(srv.Close)

	return &fixture{cfg: cfg, svc: svc, info: info, server: srv, videoURL: videoURL}
}
