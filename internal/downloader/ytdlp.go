package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/entity"
	"downloadflow/internal/observability"
	"downloadflow/internal/proxymgr"
	"downloadflow/internal/runner"
)

const (
	operationDownload = "download"
	// defaultProgressFreq throttles progress debug logs.
	defaultProgressFreq = 2 * time.Second
)

// YTdlp runs downloads with yt-dlp.
type YTdlp struct {
	log      *slog.Logger
	cfg      *config.Config
	locator  Locator
	runner   *runner.Runner
	proxyMgr *proxymgr.Manager
	metrics  *observability.Metrics
}

var _ Downloader = (*YTdlp)(nil)

// NewYTdlp creates a yt-dlp downloader. proxyMgr and metrics may be nil.
func NewYTdlp(
	log *slog.Logger,
	cfg *config.Config,
	locator Locator,
	run *runner.Runner,
	proxyMgr *proxymgr.Manager,
	metrics *observability.Metrics,
) *YTdlp {
	return &YTdlp{
		log:      log.With(slog.String("package", "downloader")),
		cfg:      cfg,
		locator:  locator,
		runner:   run,
		proxyMgr: proxyMgr,
		metrics:  metrics,
	}
}

// Process downloads req into dir. Progress is read from both output streams.
func (d *YTdlp) Process(
	ctx context.Context,
	id string,
	req entity.DownloadRequest,
	dir string,
	onProgress ProgressFunc,
) (string, error) {
	log := d.log.With(slog.String("download_id", id))

	proxy := d.proxyMgr.Pick()

	args := BuildArgs(req, OutputTemplate(dir, id), ArgsOptions{
		MuxerDir:            d.locator.LocateMuxerDir(),
		UserAgent:           d.cfg.Tools.UserAgent,
		CacheDir:            d.cfg.Dir.Cache,
		CookieFile:          d.cfg.Dir.CookieFile,
		Proxy:               proxy,
		ConcurrentFragments: d.cfg.Tools.ConcurrentFragments,
	})

	var lastLog time.Time

	onLine := func(line string) {
		percent, ok := ParseProgress(line)
		if !ok {
			return
		}

		if time.Since(lastLog) >= defaultProgressFreq {
			lastLog = time.Now()
			log.DebugContext(ctx, "download progress", slog.Float64("percent", percent))
		}

		if onProgress != nil {
			onProgress(percent, line)
		}
	}

	err := d.runner.Stream(ctx, d.locator.LocateExtractor(), args, onLine, onLine)
	if err != nil {
		if ctx.Err() == nil {
			d.proxyMgr.MarkFailed(proxy)
		}

		d.metrics.RecordExtractorRequest(operationDownload, "error")
		d.metrics.RecordExtractorError(operationDownload, ClassifyError(err))

		return "", fmt.Errorf("yt-dlp process: %w", err)
	}

	d.proxyMgr.MarkSuccess(proxy)

	path, err := LocateOutput(dir, id)
	if err != nil {
		d.metrics.RecordExtractorRequest(operationDownload, "error")
		d.metrics.RecordExtractorError(operationDownload, ClassifyError(err))

		return "", fmt.Errorf("locate output: %w", err)
	}

	d.metrics.RecordExtractorRequest(operationDownload, "ok")

	log.InfoContext(ctx, "extractor finished", slog.String("path", path))

	return path, nil
}
