package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"downloadflow/internal/downloader"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/pkg/ptr"
)

const (
	// streamBuffer is the number of events a slow stream consumer may lag behind.
	streamBuffer = 64

	msgStreamStart = "Iniciando descarga..."
	msgStreamError = "Error al descargar el video"
)

func (svc *downloads) Download(ctx context.Context, req entity.DownloadRequest) (*entity.Download, error) {
	req.OutputDir = ""

	return svc.submit(ctx, req, &task{place: keepInScratch})
}

func (svc *downloads) Stream(ctx context.Context, req entity.DownloadRequest) (string, <-chan entity.Event, error) {
	sink := newEventSink(streamBuffer)
	sink.send(entity.Event{Type: entity.EventStart, Message: msgStreamStart})

	place := placeFunc(keepInScratch)
	if downloader.IsDir(req.OutputDir) {
		place = moveTo(req.OutputDir)
	}

	tsk := &task{
		place: place,
		onProgress: func(percent float64, raw string) {
			sink.send(entity.Event{Type: entity.EventProgress, Percent: percent, Raw: raw})
		},
	}

	if _, err := svc.submit(ctx, req, tsk); err != nil {
		return "", nil, err
	}

	// a disconnecting client cancels the job
	stop := context.AfterFunc(ctx, tsk.cancel)

	go func() {
		defer stop()

		out := svc.await(tsk)

		var paths []string
		if out.err == nil && svc.inScratch(out.result.Path) {
			paths = append(paths, out.result.Path)
		}

		svc.storage.ScheduleRemoval(svc.cfg.Storage.ScratchDelay, tsk.id, paths...)

		sink.finish(ctx, terminalEvent(out))
	}()

	return tsk.id, sink.ch, nil
}

func (svc *downloads) DownloadTo(ctx context.Context, req entity.DownloadRequest, dir string) (*entity.Download, error) {
	place := placeFunc(keepInScratch)
	if dir != "" {
		place = moveTo(dir)
	}

	tsk := &task{place: place}

	if _, err := svc.submit(ctx, req, tsk); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, tsk.cancel)
	defer stop()

	out := svc.await(tsk)
	if out.err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("download %s: %w", tsk.id, ctxErr)
		}

		return nil, out.err
	}

	return svc.storage.Get(ctx, tsk.id)
}

// await waits for the outcome of tsk, or for the service to shut down.
func (svc *downloads) await(tsk *task) outcome {
	select {
	case out := <-tsk.done:
		return out
	case <-svc.rootContext().Done():
		tsk.cancel()

		return outcome{err: errs.ErrServiceClosed}
	}
}

func (svc *downloads) Get(ctx context.Context, id string) (*entity.Download, error) {
	if id == "" {
		return nil, errs.ErrDownloadIDEmpty
	}

	return svc.storage.Get(ctx, id)
}

func (svc *downloads) Artifact(ctx context.Context, id string) (entity.ResultFile, error) {
	download, err := svc.Get(ctx, id)
	if err != nil {
		return entity.ResultFile{}, err
	}

	if download.Status != entity.DownloadStatusCompleted || download.Result == nil {
		return entity.ResultFile{}, fmt.Errorf("%w: status %s", errs.ErrDownloadNotCompleted, download.Status)
	}

	return *download.Result, nil
}

func (svc *downloads) Release(ctx context.Context, id string) {
	download, err := svc.Get(ctx, id)
	if err != nil {
		return
	}

	var paths []string
	if download.Result != nil {
		paths = append(paths, download.Result.Path)
	}

	svc.storage.ScheduleRemoval(svc.cfg.Storage.ArtifactDelay, id, paths...)

	svc.log.DebugContext(ctx, "artifact released",
		slog.String("download_id", id),
		slog.Duration("delay", svc.cfg.Storage.ArtifactDelay))
}

func (svc *downloads) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return errs.ErrDownloadIDEmpty
	}

	if err := svc.storage.Cancel(ctx, id); err != nil {
		return err
	}

	svc.log.InfoContext(ctx, "download cancelled", slog.String("download_id", id))

	return nil
}

func (svc *downloads) inScratch(path string) bool {
	return path != "" && filepath.Dir(path) == filepath.Clean(svc.cfg.Dir.Scratch)
}

func terminalEvent(out outcome) entity.Event {
	if out.err != nil {
		msg := out.err.Error()
		if msg == "" {
			msg = msgStreamError
		}

		return entity.Event{Type: entity.EventError, Success: ptr.Of(false), Message: msg}
	}

	return entity.Event{
		Type:      entity.EventComplete,
		Success:   ptr.Of(true),
		FilePath:  out.result.Path,
		FileName:  out.result.Name,
		FileSize:  out.result.Size,
		OutputDir: filepath.Dir(out.result.Path),
	}
}

// eventSink delivers stream events. Progress events are dropped when the consumer lags;
// the terminal event is always delivered unless the consumer is gone.
type eventSink struct {
	mu     sync.Mutex
	ch     chan entity.Event
	closed bool
}

func newEventSink(size int) *eventSink {
	return &eventSink{ch: make(chan entity.Event, size)}
}

func (s *eventSink) send(event entity.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- event:
	default:
	}
}

func (s *eventSink) finish(ctx context.Context, event entity.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- event:
	case <-ctx.Done():
	}

	s.closed = true
	close(s.ch)
}
