package batch_test

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"downloadflow/internal/batch"
	"downloadflow/internal/config"
	"downloadflow/internal/downloader"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/runner"
	"downloadflow/internal/service"
	"downloadflow/internal/storage"
	"downloadflow/internal/testutil/fakeytdlp"
)

func newTestPackager(t *testing.T, mode string, cfg *config.Config) *batch.Packager {
	t.Helper()

	locator := fakeytdlp.Install(t, mode)
	t.Setenv(fakeytdlp.EnvTitle, "Clip")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())

	stg := storage.New(ctx, log, cfg, nil)
	dl := downloader.NewYTdlp(log, cfg, locator, runner.New(log), nil, nil)
	svc := service.New(log, cfg, stg, dl, nil)

	svc.Start(ctx)

	t.Cleanup(func() {
		cancel()
		svc.Wait()
		stg.Wait()
	})

	return batch.New(log, cfg, svc, stg, nil)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Dir: config.Dir{Scratch: t.TempDir()},
		Job: config.Job{Workers: 2, Timeout: 30 * time.Second, QueueSize: 4, ProgressCeiling: 95},
		Storage: config.Storage{
			TTL:           time.Hour,
			ArtifactDelay: time.Hour,
			ScratchDelay:  time.Hour,
			BatchDelay:    time.Hour,
		},
	}
}

func requests(n int) []entity.DownloadRequest {
	reqs := make([]entity.DownloadRequest, n)
	for i := range reqs {
		reqs[i] = entity.DownloadRequest{URL: "https://www.youtube.com/watch?v=abc123"}
	}

	return reqs
}

func TestPackageIndividual(t *testing.T) {
	packager := newTestPackager(t, fakeytdlp.ModeSuccess, testConfig(t))
	calls := fakeytdlp.CountCalls(t)

	res, err := packager.Package(t.Context(), requests(2))
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}

	if res.Mode != batch.ModeIndividual || len(res.Requests) != 2 {
		t.Errorf("result = %+v, want 2 individual requests", res)
	}

	if got := calls(); got != 0 {
		t.Errorf("extractor calls = %d, want 0", got)
	}
}

func TestPackageValidation(t *testing.T) {
	packager := newTestPackager(t, fakeytdlp.ModeSuccess, testConfig(t))

	if _, err := packager.Package(t.Context(), nil); !errors.Is(err, errs.ErrEmptyBatch) {
		t.Errorf("Package(nil) error = %v, want ErrEmptyBatch", err)
	}

	reqs := requests(3)
	reqs[1].URL = "ftp://example.com/video"

	if _, err := packager.Package(t.Context(), reqs); !errors.Is(err, errs.ErrInvalidURL) {
		t.Errorf("Package() error = %v, want ErrInvalidURL", err)
	}
}

func TestPackageArchive(t *testing.T) {
	cfg := testConfig(t)
	packager := newTestPackager(t, fakeytdlp.ModeSuccess, cfg)

	res, err := packager.Package(t.Context(), requests(3))
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}

	if res.Mode != batch.ModeArchive {
		t.Fatalf("mode = %s, want archive", res.Mode)
	}

	if filepath.Dir(res.ArchivePath) != cfg.Dir.Scratch {
		t.Errorf("archive = %q, want inside scratch", res.ArchivePath)
	}

	reader, err := zip.OpenReader(res.ArchivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()

	var names []string

	for _, file := range reader.File {
		names = append(names, file.Name)

		if file.Method != zip.Deflate {
			t.Errorf("%s method = %d, want deflate", file.Name, file.Method)
		}
	}

	slices.Sort(names)

	if want := []string{"Clip (1).mp4", "Clip (2).mp4", "Clip.mp4"}; !slices.Equal(names, want) {
		t.Errorf("entries = %q, want %q", names, want)
	}

	info, err := os.Stat(res.ArchivePath)
	if err != nil {
		t.Fatalf("stat archive: %v", err)
	}

	if info.Size() != res.Size {
		t.Errorf("size = %d, want %d", res.Size, info.Size())
	}
}

func TestPackageFailureCleansUp(t *testing.T) {
	cfg := testConfig(t)
	packager := newTestPackager(t, fakeytdlp.ModeFail, cfg)

	if _, err := packager.Package(t.Context(), requests(3)); err == nil {
		t.Fatal("Package() error = nil, want failure")
	}

	leftovers, err := filepath.Glob(filepath.Join(cfg.Dir.Scratch, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	if len(leftovers) != 0 {
		t.Errorf("scratch leftovers = %q", leftovers)
	}
}

func TestRelease(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.BatchDelay = 0

	packager := newTestPackager(t, fakeytdlp.ModeSuccess, cfg)

	res, err := packager.Package(t.Context(), requests(3))
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}

	packager.Release(res)

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		_, archiveErr := os.Stat(res.ArchivePath)
		_, dirErr := os.Stat(res.Dir)

		if os.IsNotExist(archiveErr) && os.IsNotExist(dirErr) {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Error("archive and batch dir not removed")
}
