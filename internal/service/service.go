// Package service orchestrates downloads: it admits requests into a bounded queue,
// runs them on a worker pool, and tracks their records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/downloader"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/observability"
	"downloadflow/internal/runner"
	"downloadflow/internal/storage"
	"downloadflow/pkg/gen"
	"downloadflow/pkg/urls"
)

// Downloads is the download orchestrator.
type Downloads interface {
	Start(ctx context.Context)
	// Wait blocks until all workers have stopped.
	Wait()

	// Download accepts a polled download and returns its record in starting state.
	Download(ctx context.Context, req entity.DownloadRequest) (*entity.Download, error)
	// Stream accepts a download and returns its id and an event channel.
	// The channel gets start first, then progress events, then one terminal event, and is closed after it.
	// When ctx is done the download is cancelled.
	Stream(ctx context.Context, req entity.DownloadRequest) (string, <-chan entity.Event, error)
	// DownloadTo runs a download through the pool, waits for it, and places the file in dir.
	// An empty dir keeps the file in scratch. It returns the completed record.
	DownloadTo(ctx context.Context, req entity.DownloadRequest, dir string) (*entity.Download, error)

	Get(ctx context.Context, id string) (*entity.Download, error)
	// Artifact returns the file of a completed download.
	Artifact(ctx context.Context, id string) (entity.ResultFile, error)
	// Release schedules removal of the artifact and the record after the artifact delay.
	Release(ctx context.Context, id string)
	Cancel(ctx context.Context, id string) error
}

type downloads struct {
	log        *slog.Logger
	cfg        *config.Config
	storage    storage.Storer
	downloader downloader.Downloader
	metrics    *observability.Metrics

	queue chan *task

	rootMu sync.RWMutex
	root   context.Context //nolint:containedctx // parent of every job context

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

var _ Downloads = (*downloads)(nil)

// placeFunc moves the finished file of download id to its final location and describes it.
type placeFunc func(id, path string) (entity.ResultFile, error)

type task struct {
	id     string
	req    entity.DownloadRequest
	ctx    context.Context //nolint:containedctx // cancelled by Cancel or a disconnecting stream
	cancel context.CancelFunc
	place  placeFunc

	// onProgress is called with the stored progress whenever it changes.
	onProgress func(percent float64, raw string)
	// done receives the outcome once; it is buffered.
	done chan outcome
}

type outcome struct {
	result entity.ResultFile
	err    error
}

// New creates the orchestrator. metrics may be nil.
func New(
	log *slog.Logger,
	cfg *config.Config,
	stg storage.Storer,
	dl downloader.Downloader,
	metrics *observability.Metrics,
) Downloads {
	return &downloads{
		log:        log.With(slog.String("package", "service")),
		cfg:        cfg,
		storage:    stg,
		downloader: dl,
		metrics:    metrics,
		queue:      make(chan *task, max(cfg.Job.QueueSize, 1)),
		root:       context.Background(),
	}
}

func (svc *downloads) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		svc.rootMu.Lock()
		svc.root = ctx
		svc.rootMu.Unlock()

		if err := os.MkdirAll(svc.cfg.Dir.Scratch, 0o755); err != nil {
			svc.log.ErrorContext(ctx, "create scratch dir", slog.Any("error", err))
		}

		for i := range max(svc.cfg.Job.Workers, 1) {
			svc.wg.Go(func() { svc.worker(ctx, i) })
		}

		svc.log.InfoContext(ctx, "workers started",
			slog.Int("workers", max(svc.cfg.Job.Workers, 1)),
			slog.Int("queue_size", cap(svc.queue)))
	})
}

func (svc *downloads) Wait() {
	svc.wg.Wait()
}

func (svc *downloads) rootContext() context.Context {
	svc.rootMu.RLock()
	defer svc.rootMu.RUnlock()

	return svc.root
}

// submit validates req, stores a starting record, and queues the job.
// It returns a copy of the record as it was accepted.
func (svc *downloads) submit(ctx context.Context, req entity.DownloadRequest, tsk *task) (*entity.Download, error) {
	if svc.closed.Load() {
		return nil, errs.ErrServiceClosed
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	req.URL = urls.Normalize(req.URL)

	now := time.Now()

	tsk.id = gen.ID()
	tsk.req = req
	tsk.done = make(chan outcome, 1)
	tsk.ctx, tsk.cancel = context.WithCancel(svc.rootContext())

	record := &entity.Download{
		ID:        tsk.id,
		URL:       req.URL,
		Request:   req,
		Status:    entity.DownloadStatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	accepted := record.Clone()

	if err := svc.storage.Create(ctx, record); err != nil {
		tsk.cancel()

		return nil, fmt.Errorf("store download: %w", err)
	}

	svc.storage.RegisterCancelFunc(tsk.id, tsk.cancel)

	select {
	case svc.queue <- tsk:
		svc.metrics.RecordDownloadCreated()
		svc.log.InfoContext(ctx, "download queued", slog.String("download_id", tsk.id), slog.Any("request", req))

		return accepted, nil
	default:
		tsk.cancel()
		svc.storage.UnregisterCancelFunc(tsk.id)
		svc.storage.Delete(ctx, tsk.id)
		svc.metrics.RecordQueueRejected()

		return nil, fmt.Errorf("%w: %d/%d", errs.ErrQueueFull, len(svc.queue), cap(svc.queue))
	}
}

func (svc *downloads) worker(ctx context.Context, workerID int) {
	log := svc.log.With(slog.Int("worker_id", workerID))

	for {
		select {
		case tsk := <-svc.queue:
			if tsk == nil {
				log.WarnContext(ctx, "received nil task")

				continue
			}

			if ctx.Err() != nil {
				svc.reject(tsk)

				continue
			}

			svc.process(tsk)
		case <-ctx.Done():
			svc.closed.Store(true)
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))

			for {
				select {
				case tsk := <-svc.queue:
					if tsk != nil {
						svc.reject(tsk)
					}
				default:
					return
				}
			}
		}
	}
}

// reject fails a queued task that will never run because the service is stopping.
func (svc *downloads) reject(tsk *task) {
	ctx := context.WithoutCancel(tsk.ctx)

	tsk.cancel()
	svc.storage.UnregisterCancelFunc(tsk.id)

	if err := svc.storage.MarkFailed(ctx, tsk.id, errs.ErrServiceClosed.Error()); err != nil {
		svc.log.DebugContext(ctx, "mark failed", slog.String("download_id", tsk.id), slog.Any("error", err))
	}

	svc.metrics.RecordDownloadFailed("closed")
	svc.log.InfoContext(ctx, "queued download dropped on shutdown", slog.String("download_id", tsk.id))

	tsk.done <- outcome{err: errs.ErrServiceClosed}
}

func (svc *downloads) process(tsk *task) {
	ctx := tsk.ctx
	log := svc.log.With(slog.String("download_id", tsk.id))

	defer tsk.cancel()
	defer svc.storage.UnregisterCancelFunc(tsk.id)

	res, err := svc.run(ctx, tsk)
	if err != nil {
		msg := failureMessage(err, svc.cfg.Job.Timeout)

		svc.removePartial(ctx, tsk.id)

		// Cancel may have already recorded the failure
		if markErr := svc.storage.MarkFailed(context.WithoutCancel(ctx), tsk.id, msg); markErr != nil {
			log.DebugContext(ctx, "mark failed", slog.Any("error", markErr))
		}

		svc.metrics.RecordDownloadFailed(downloader.ClassifyError(err))
		log.ErrorContext(ctx, "download failed", slog.Any("error", err))

		tsk.done <- outcome{err: errors.New(msg)}

		return
	}

	svc.metrics.RecordDownloadCompleted(res.Size)
	tsk.done <- outcome{result: res}
}

func (svc *downloads) run(ctx context.Context, tsk *task) (entity.ResultFile, error) {
	if err := ctx.Err(); err != nil {
		return entity.ResultFile{}, fmt.Errorf("before start: %w", err)
	}

	if err := svc.storage.MarkDownloading(ctx, tsk.id); err != nil {
		return entity.ResultFile{}, fmt.Errorf("mark downloading: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, svc.cfg.Job.Timeout)
	defer cancel()

	stopTimer := svc.metrics.DownloadTimer()
	defer stopTimer()

	onProgress := func(percent float64, raw string) {
		stored, changed, err := svc.storage.UpdateProgress(jobCtx, tsk.id, percent)
		if err != nil || !changed {
			return
		}

		if tsk.onProgress != nil {
			tsk.onProgress(stored, raw)
		}
	}

	path, err := svc.downloader.Process(jobCtx, tsk.id, tsk.req, svc.cfg.Dir.Scratch, onProgress)
	if err != nil {
		return entity.ResultFile{}, err
	}

	res, err := tsk.place(tsk.id, path)
	if err != nil {
		os.Remove(path)

		return entity.ResultFile{}, fmt.Errorf("place output: %w", err)
	}

	if err := svc.storage.MarkCompleted(ctx, tsk.id, res); err != nil {
		// a placed file outside scratch belongs to the user now
		if svc.inScratch(res.Path) {
			os.Remove(res.Path)
		}

		// Cancel won the race after the extractor had finished
		if errors.Is(err, errs.ErrInvalidTransition) {
			return entity.ResultFile{}, fmt.Errorf("mark completed: %w", errs.ErrDownloadCancelled)
		}

		return entity.ResultFile{}, fmt.Errorf("mark completed: %w", err)
	}

	return res, nil
}

// keepInScratch leaves the file where the extractor wrote it.
func keepInScratch(id, path string) (entity.ResultFile, error) {
	return describe(path, downloader.FriendlyName(path, id))
}

// moveTo moves the file into dir under its friendly name.
// When dir is no longer a directory the file stays in scratch.
func moveTo(dir string) placeFunc {
	return func(id, path string) (entity.ResultFile, error) {
		if !downloader.IsDir(dir) {
			return keepInScratch(id, path)
		}

		name := downloader.FriendlyName(path, id)

		dest, err := downloader.Place(path, dir, name)
		if err != nil {
			return entity.ResultFile{}, err
		}

		return describe(dest, filepath.Base(dest))
	}
}

func describe(path, name string) (entity.ResultFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return entity.ResultFile{}, fmt.Errorf("stat output: %w", err)
	}

	return entity.ResultFile{Path: path, Name: name, Size: info.Size()}, nil
}

// removePartial deletes every scratch file the extractor left for id.
func (svc *downloads) removePartial(ctx context.Context, id string) {
	matches, err := filepath.Glob(filepath.Join(svc.cfg.Dir.Scratch, id+"_*"))
	if err != nil {
		return
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			svc.log.WarnContext(ctx, "remove partial file", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// failureMessage turns a job error into the message stored on the record.
func failureMessage(err error, timeout time.Duration) string {
	var exitErr *runner.ExitError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("download timed out after %s", timeout)
	case errors.Is(err, context.Canceled), errors.Is(err, errs.ErrDownloadCancelled):
		return errs.ErrDownloadCancelled.Error()
	case errors.As(err, &exitErr):
		return exitErr.Error()
	case errors.Is(err, errs.ErrOutputNotFound):
		return errs.ErrOutputNotFound.Error()
	default:
		return err.Error()
	}
}
