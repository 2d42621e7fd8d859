// Package batch downloads several videos through the orchestrator and packs them into one zip archive.
package batch

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"downloadflow/internal/config"
	"downloadflow/internal/consts"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/observability"
	"downloadflow/internal/service"
	"downloadflow/internal/storage"
	"downloadflow/pkg/calc"
	"downloadflow/pkg/gen"
)

// compressionLevel is the deflate level of batch archives.
const compressionLevel = 5

// Mode tells how the client should fetch the batch.
type Mode string

const (
	// ModeIndividual means the client downloads every video on its own.
	ModeIndividual Mode = "individual"
	// ModeArchive means the videos were packed into one archive.
	ModeArchive Mode = "archive"
)

// Result is the outcome of a batch.
type Result struct {
	Mode Mode
	// Requests are the validated requests of an individual batch.
	Requests []entity.DownloadRequest
	// ArchivePath is the zip of an archive batch.
	ArchivePath string
	// Dir holds the downloaded videos of an archive batch.
	Dir  string
	Size int64
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(r.Mode)),
		slog.Int("requests", len(r.Requests)),
		slog.String("archive", r.ArchivePath),
		slog.Int64("size", r.Size),
	)
}

// Packager runs batches.
type Packager struct {
	log     *slog.Logger
	cfg     *config.Config
	svc     service.Downloads
	storage storage.Storer
	metrics *observability.Metrics
}

// New creates a packager. metrics may be nil.
func New(
	log *slog.Logger,
	cfg *config.Config,
	svc service.Downloads,
	stg storage.Storer,
	metrics *observability.Metrics,
) *Packager {
	return &Packager{
		log:     log.With(slog.String("package", "batch")),
		cfg:     cfg,
		svc:     svc,
		storage: stg,
		metrics: metrics,
	}
}

// Package validates reqs and, from consts.BatchIndividualThreshold videos on, downloads them
// one after another and packs them into a zip in scratch. Smaller batches are returned as is.
func (p *Packager) Package(ctx context.Context, reqs []entity.DownloadRequest) (*Result, error) {
	if len(reqs) == 0 {
		return nil, errs.ErrEmptyBatch
	}

	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("video %d: %w", i+1, err)
		}
	}

	if len(reqs) < consts.BatchIndividualThreshold {
		p.metrics.RecordBatch(string(ModeIndividual))

		return &Result{Mode: ModeIndividual, Requests: reqs}, nil
	}

	id := gen.ShortID()
	res := &Result{
		Mode:        ModeArchive,
		Dir:         filepath.Join(p.cfg.Dir.Scratch, "batch_"+id),
		ArchivePath: filepath.Join(p.cfg.Dir.Scratch, "videos_"+id+".zip"),
	}

	log := p.log.With(slog.String("batch_id", id))

	if err := p.run(ctx, log, reqs, res); err != nil {
		p.discard(ctx, res)
		p.metrics.RecordBatch("failed")

		return nil, err
	}

	p.metrics.RecordBatch(string(ModeArchive))
	log.InfoContext(ctx, "batch archived", slog.Any("result", res))

	return res, nil
}

func (p *Packager) run(ctx context.Context, log *slog.Logger, reqs []entity.DownloadRequest, res *Result) error {
	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return fmt.Errorf("create batch dir: %w", err)
	}

	ids := make([]string, 0, len(reqs))

	defer func() {
		for _, id := range ids {
			p.svc.Release(context.WithoutCancel(ctx), id)
		}
	}()

	for i, req := range reqs {
		log.InfoContext(ctx, "batch video started",
			slog.Int("index", i+1),
			slog.Int("total", len(reqs)),
			slog.Int("progress", calc.Progress(i, len(reqs))),
			slog.String("url", req.URL))

		download, err := p.svc.DownloadTo(ctx, req, res.Dir)
		if err != nil {
			return fmt.Errorf("video %d/%d: %w", i+1, len(reqs), err)
		}

		ids = append(ids, download.ID)
	}

	size, err := writeArchive(res.ArchivePath, res.Dir)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	res.Size = size

	return nil
}

// Release schedules removal of the archive and the batch dir after the batch delay.
func (p *Packager) Release(res *Result) {
	if res == nil || res.Mode != ModeArchive {
		return
	}

	p.storage.ScheduleRemoval(p.cfg.Storage.BatchDelay, "", res.ArchivePath, res.Dir)
}

func (p *Packager) discard(ctx context.Context, res *Result) {
	for _, path := range []string{res.ArchivePath, res.Dir} {
		if err := os.RemoveAll(path); err != nil {
			p.log.WarnContext(ctx, "remove batch leftovers", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// writeArchive packs the regular files directly inside dir into a deflated zip at dest.
func writeArchive(dest, dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, compressionLevel)
	})

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if err := addFile(zw, filepath.Join(dir, entry.Name())); err != nil {
			return 0, errors.Join(err, zw.Close(), out.Close())
		}
	}

	if err := zw.Close(); err != nil {
		return 0, errors.Join(fmt.Errorf("finish zip: %w", err), out.Close())
	}

	info, err := out.Stat()
	if err != nil {
		return 0, errors.Join(fmt.Errorf("stat: %w", err), out.Close())
	}

	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}

	return info.Size(), nil
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", filepath.Base(path), err)
	}

	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", header.Name, err)
	}

	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("copy %s: %w", header.Name, err)
	}

	return nil
}
