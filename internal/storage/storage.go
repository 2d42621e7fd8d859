// Package storage keeps download records in memory, owns their cancel functions,
// and removes expired records and scratch files.
package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/consts"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/observability"
	"downloadflow/pkg/calc"
)

// Storer defines the interface for storage operations.
type Storer interface {
	Create(ctx context.Context, download *entity.Download) error
	// Get returns a copy of the record.
	Get(ctx context.Context, id string) (*entity.Download, error)
	Delete(ctx context.Context, id string)

	MarkDownloading(ctx context.Context, id string) error
	// UpdateProgress raises the progress of a downloading record and reports the stored value
	// and whether it changed. Values are clamped to the configured ceiling and never decrease.
	UpdateProgress(ctx context.Context, id string, percent float64) (float64, bool, error)
	MarkCompleted(ctx context.Context, id string, result entity.ResultFile) error
	MarkFailed(ctx context.Context, id string, msg string) error

	// Cancel cancels a running download and marks it failed.
	Cancel(ctx context.Context, id string) error
	// RegisterCancelFunc stores a cancel function for a download.
	RegisterCancelFunc(id string, cancelFunc context.CancelFunc)
	// UnregisterCancelFunc removes the cancel function for a download.
	UnregisterCancelFunc(id string)

	// ScheduleRemoval deletes paths and the record id (if not empty) after delay.
	ScheduleRemoval(delay time.Duration, id string, paths ...string)
	CleanupExpired(ctx context.Context, interval time.Duration)
	// Wait blocks until background goroutines finish. They stop once the storage context is done.
	Wait()
}

type storage struct {
	ctx     context.Context //nolint:containedctx // root context for delayed removals
	log     *slog.Logger
	cfg     *config.Config
	metrics *observability.Metrics

	mu        sync.RWMutex
	downloads map[string]*entity.Download // download id : record

	cancelMu    sync.RWMutex
	cancelFuncs map[string]context.CancelFunc // download id : cancel func

	wg sync.WaitGroup
}

// New creates a new in-memory storage instance and starts the cleanup loop.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) Storer {
	stg := &storage{
		ctx:         ctx,
		log:         log.With(slog.String("package", "storage")),
		cfg:         cfg,
		metrics:     metrics,
		downloads:   make(map[string]*entity.Download),
		cancelFuncs: make(map[string]context.CancelFunc),
	}

	if cfg.Storage.CleanupInterval > 0 {
		stg.wg.Go(func() { stg.CleanupExpired(ctx, cfg.Storage.CleanupInterval) })
	}

	return stg
}

func (stg *storage) Create(ctx context.Context, download *entity.Download) error {
	if download == nil || download.ID == "" {
		return errs.ErrDownloadIDEmpty
	}

	stg.mu.Lock()
	stg.downloads[download.ID] = download.Clone()
	count := len(stg.downloads)
	stg.mu.Unlock()

	stg.metrics.SetStoredRecords(count)

	stg.log.DebugContext(ctx, "download stored", slog.Any("download", download))

	return nil
}

func (stg *storage) Get(_ context.Context, id string) (*entity.Download, error) {
	if id == "" {
		return nil, errs.ErrDownloadIDEmpty
	}

	stg.mu.RLock()
	defer stg.mu.RUnlock()

	download := stg.downloads[id]
	if download == nil {
		return nil, errs.ErrDownloadNotFound
	}

	return download.Clone(), nil
}

func (stg *storage) Delete(ctx context.Context, id string) {
	stg.mu.Lock()
	delete(stg.downloads, id)
	count := len(stg.downloads)
	stg.mu.Unlock()

	stg.UnregisterCancelFunc(id)
	stg.metrics.SetStoredRecords(count)

	stg.log.DebugContext(ctx, "download deleted", slog.String("download_id", id))
}

// transition applies fn to the record under lock after checking the state machine.
func (stg *storage) transition(id string, next entity.DownloadStatus, fn func(d *entity.Download)) error {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	download := stg.downloads[id]
	if download == nil {
		return errs.ErrDownloadNotFound
	}

	if !download.Status.CanTransition(next) {
		return errs.ErrInvalidTransition
	}

	download.Status = next
	download.UpdatedAt = time.Now()

	if fn != nil {
		fn(download)
	}

	if next.IsTerminal() {
		download.EstimatedETA = 0
		download.ExpiresAt = download.UpdatedAt.Add(stg.cfg.Storage.TTL)
	}

	return nil
}

func (stg *storage) MarkDownloading(ctx context.Context, id string) error {
	err := stg.transition(id, entity.DownloadStatusDownloading, nil)
	if err != nil {
		return err
	}

	stg.log.DebugContext(ctx, "download running", slog.String("download_id", id))

	return nil
}

func (stg *storage) UpdateProgress(_ context.Context, id string, percent float64) (float64, bool, error) {
	ceiling := stg.cfg.Job.ProgressCeiling
	if ceiling <= 0 || ceiling > consts.FullProgress {
		ceiling = consts.FullProgress
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	download := stg.downloads[id]
	if download == nil {
		return 0, false, errs.ErrDownloadNotFound
	}

	if download.Status != entity.DownloadStatusDownloading {
		return download.Progress, false, errs.ErrInvalidTransition
	}

	next := max(download.Progress, min(percent, ceiling))
	if next == download.Progress {
		return next, false, nil
	}

	download.Progress = next
	download.UpdatedAt = time.Now()
	download.EstimatedETA = calc.ETA(next, download.CreatedAt)

	return next, true, nil
}

func (stg *storage) MarkCompleted(ctx context.Context, id string, result entity.ResultFile) error {
	err := stg.transition(id, entity.DownloadStatusCompleted, func(d *entity.Download) {
		d.Progress = consts.FullProgress
		d.Result = &result
		d.Error = ""
	})
	if err != nil {
		return err
	}

	stg.log.InfoContext(ctx, "download completed",
		slog.String("download_id", id),
		slog.String("path", result.Path),
		slog.Int64("size", result.Size))

	return nil
}

func (stg *storage) MarkFailed(ctx context.Context, id string, msg string) error {
	err := stg.transition(id, entity.DownloadStatusError, func(d *entity.Download) {
		d.Error = msg
	})
	if err != nil {
		return err
	}

	stg.log.InfoContext(ctx, "download failed", slog.String("download_id", id), slog.String("error", msg))

	return nil
}

func (stg *storage) Cancel(ctx context.Context, id string) error {
	stg.mu.RLock()
	download := stg.downloads[id]

	var status entity.DownloadStatus
	if download != nil {
		status = download.Status
	}
	stg.mu.RUnlock()

	if download == nil {
		return errs.ErrDownloadNotFound
	}

	if status.IsTerminal() {
		return errs.ErrDownloadTerminal
	}

	stg.cancelMu.RLock()
	cancelFunc := stg.cancelFuncs[id]
	stg.cancelMu.RUnlock()

	if cancelFunc == nil {
		stg.log.WarnContext(ctx, "no cancel func registered for download", slog.String("download_id", id))

		return errs.ErrDownloadTerminal
	}

	cancelFunc()

	// the worker may have finished in between; its terminal state wins
	if err := stg.MarkFailed(ctx, id, errs.ErrDownloadCancelled.Error()); err != nil {
		return errs.ErrDownloadTerminal
	}

	stg.log.InfoContext(ctx, "download cancelled", slog.String("download_id", id))

	return nil
}

func (stg *storage) RegisterCancelFunc(id string, cancelFunc context.CancelFunc) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	stg.cancelFuncs[id] = cancelFunc
}

func (stg *storage) UnregisterCancelFunc(id string) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	delete(stg.cancelFuncs, id)
}

func (stg *storage) Wait() {
	stg.wg.Wait()
}
