package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"downloadflow/internal/entity"
)

func (stg *storage) ScheduleRemoval(delay time.Duration, id string, paths ...string) {
	stg.wg.Go(func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		// on shutdown the files are removed right away so scratch does not keep orphans
		select {
		case <-timer.C:
		case <-stg.ctx.Done():
		}

		removed := stg.removePaths(context.WithoutCancel(stg.ctx), paths)

		if id != "" {
			stg.Delete(stg.ctx, id)
		}

		stg.log.Debug("scheduled removal done",
			slog.String("download_id", id),
			slog.Int("removed", removed),
			slog.Duration("delay", delay))
	})
}

func (stg *storage) removePaths(ctx context.Context, paths []string) int {
	removed := 0

	for _, path := range paths {
		if path == "" {
			continue
		}

		if !filepath.IsAbs(path) {
			stg.log.ErrorContext(ctx, "non-absolute path found", slog.String("path", path))

			continue
		}

		if _, err := os.Lstat(path); os.IsNotExist(err) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			stg.log.ErrorContext(ctx, "failed to delete path", slog.String("path", path), slog.Any("error", err))

			continue
		}

		removed++
	}

	return removed
}

func (stg *storage) CleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx)
		case <-ctx.Done():
			log.Info("cleanup expired downloads stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context) {
	log := stg.log
	now := time.Now()

	stg.mu.RLock()
	expired := stg.getExpired(now)
	stg.mu.RUnlock()

	files := 0

	for _, download := range expired {
		files += stg.cleanupDownload(ctx, download)
	}

	files += stg.sweepScratch(ctx, now)

	if len(expired) > 0 || files > 0 {
		log.InfoContext(ctx, "cleanup done", slog.Int("records", len(expired)), slog.Int("files", files))
	}

	stg.metrics.RecordCleanup(len(expired), files)
}

func (stg *storage) getExpired(now time.Time) []*entity.Download {
	var expired []*entity.Download

	for _, download := range stg.downloads {
		if download.Status.IsTerminal() && !download.ExpiresAt.IsZero() && download.ExpiresAt.Before(now) {
			expired = append(expired, download.Clone())
		}
	}

	return expired
}

// cleanupDownload deletes the record and its result file when the file lives in scratch.
func (stg *storage) cleanupDownload(ctx context.Context, download *entity.Download) int {
	removed := 0

	if download.Result != nil && stg.inScratch(download.Result.Path) {
		removed = stg.removePaths(ctx, []string{download.Result.Path})
	}

	stg.Delete(ctx, download.ID)

	return removed
}

func (stg *storage) inScratch(path string) bool {
	scratch := stg.cfg.Dir.Scratch
	if scratch == "" || path == "" {
		return false
	}

	rel, err := filepath.Rel(scratch, path)

	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// sweepScratch removes scratch entries older than the configured maximum age.
func (stg *storage) sweepScratch(ctx context.Context, now time.Time) int {
	maxAge := stg.cfg.Storage.ScratchMaxAge
	scratch := stg.cfg.Dir.Scratch

	if maxAge <= 0 || scratch == "" {
		return 0
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		if !os.IsNotExist(err) {
			stg.log.WarnContext(ctx, "read scratch dir", slog.Any("error", err))
		}

		return 0
	}

	var stale []string

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > maxAge {
			stale = append(stale, filepath.Join(scratch, entry.Name()))
		}
	}

	return stg.removePaths(ctx, stale)
}
