package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/downloader"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/runner"
	"downloadflow/internal/service"
	"downloadflow/internal/storage"
	"downloadflow/internal/testutil/fakeytdlp"
)

const (
	testURL     = "https://www.youtube.com/watch?v=abc123"
	waitTimeout = 10 * time.Second
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Dir: config.Dir{Scratch: t.TempDir()},
		Job: config.Job{
			Workers:         2,
			Timeout:         30 * time.Second,
			QueueSize:       4,
			ProgressCeiling: 95,
		},
		Storage: config.Storage{
			TTL:           time.Hour,
			ArtifactDelay: time.Hour,
			ScratchDelay:  time.Hour,
			BatchDelay:    time.Hour,
		},
	}
}

func newTestService(t *testing.T, mode string, cfg *config.Config) service.Downloads {
	t.Helper()

	locator := fakeytdlp.Install(t, mode)
	t.Setenv(fakeytdlp.EnvTitle, "My Clip")

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

	return svc
}

func waitStatus(t *testing.T, svc service.Downloads, id string, want entity.DownloadStatus) *entity.Download {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)

	for time.Now().Before(deadline) {
		download, err := svc.Get(t.Context(), id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		if download.Status == want {
			return download
		}

		if download.Status.IsTerminal() {
			t.Fatalf("status = %s (error %q), want %s", download.Status, download.Error, want)
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("download %s did not reach %s", id, want)

	return nil
}

func collect(t *testing.T, events <-chan entity.Event) []entity.Event {
	t.Helper()

	var got []entity.Event

	timeout := time.After(waitTimeout)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return got
			}

			got = append(got, event)
		case <-timeout:
			t.Fatalf("stream not closed, got %d events", len(got))
		}
	}
}

func TestDownloadCompletes(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, fakeytdlp.ModeSuccess, cfg)

	download, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if download.Status != entity.DownloadStatusStarting {
		t.Errorf("initial status = %s", download.Status)
	}

	done := waitStatus(t, svc, download.ID, entity.DownloadStatusCompleted)

	if done.Progress != 100 {
		t.Errorf("progress = %v, want 100", done.Progress)
	}

	artifact, err := svc.Artifact(t.Context(), download.ID)
	if err != nil {
		t.Fatalf("Artifact() error = %v", err)
	}

	if artifact.Name != "My Clip.mp4" {
		t.Errorf("name = %q, want My Clip.mp4", artifact.Name)
	}

	// polled downloads ignore the output dir
	if filepath.Dir(artifact.Path) != cfg.Dir.Scratch {
		t.Errorf("path = %q, want inside scratch", artifact.Path)
	}

	if artifact.Size != int64(len("fake media bytes")) {
		t.Errorf("size = %d", artifact.Size)
	}
}

func TestDownloadInvalidRequest(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeSuccess, testConfig(t))

	tests := []struct {
		name string
		req  entity.DownloadRequest
		want error
	}{
		{name: "empty url", req: entity.DownloadRequest{}, want: errs.ErrInvalidURL},
		{name: "bad quality", req: entity.DownloadRequest{URL: testURL, Quality: new(int)}, want: errs.ErrInvalidQuality},
		{
			name: "bad trim",
			req:  entity.DownloadRequest{URL: testURL, Trim: &entity.TrimWindow{Start: 10, End: 5}},
			want: errs.ErrInvalidTrim,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Download(t.Context(), tc.req); !errors.Is(err, tc.want) {
				t.Errorf("Download() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDownloadFailure(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeFail, testConfig(t))

	download, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	failed := waitStatus(t, svc, download.ID, entity.DownloadStatusError)

	if !strings.Contains(failed.Error, "Unable to download") {
		t.Errorf("error = %q, want stderr tail", failed.Error)
	}

	if _, err := svc.Artifact(t.Context(), download.ID); !errors.Is(err, errs.ErrDownloadNotCompleted) {
		t.Errorf("Artifact() error = %v, want ErrDownloadNotCompleted", err)
	}
}

func TestDownloadTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Job.Timeout = 200 * time.Millisecond

	svc := newTestService(t, fakeytdlp.ModeSleep, cfg)

	download, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	failed := waitStatus(t, svc, download.ID, entity.DownloadStatusError)

	if failed.Error != "download timed out after 200ms" {
		t.Errorf("error = %q", failed.Error)
	}
}

func TestCancel(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, fakeytdlp.ModeSleep, cfg)

	download, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	waitStatus(t, svc, download.ID, entity.DownloadStatusDownloading)

	if err := svc.Cancel(t.Context(), download.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	cancelled, err := svc.Get(t.Context(), download.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if cancelled.Status != entity.DownloadStatusError || cancelled.Error != errs.ErrDownloadCancelled.Error() {
		t.Errorf("record = %s %q, want cancelled error", cancelled.Status, cancelled.Error)
	}

	if err := svc.Cancel(t.Context(), download.ID); !errors.Is(err, errs.ErrDownloadTerminal) {
		t.Errorf("second Cancel() error = %v, want ErrDownloadTerminal", err)
	}

	if err := svc.Cancel(t.Context(), "missing"); !errors.Is(err, errs.ErrDownloadNotFound) {
		t.Errorf("Cancel(missing) error = %v, want ErrDownloadNotFound", err)
	}
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.Job.Workers = 1
	cfg.Job.QueueSize = 1

	svc := newTestService(t, fakeytdlp.ModeSleep, cfg)
	req := entity.DownloadRequest{URL: testURL}

	running, err := svc.Download(t.Context(), req)
	if err != nil {
		t.Fatalf("first Download() error = %v", err)
	}

	waitStatus(t, svc, running.ID, entity.DownloadStatusDownloading)

	if _, err := svc.Download(t.Context(), req); err != nil {
		t.Fatalf("second Download() error = %v", err)
	}

	if _, err := svc.Download(t.Context(), req); !errors.Is(err, errs.ErrQueueFull) {
		t.Errorf("third Download() error = %v, want ErrQueueFull", err)
	}
}

func TestStreamEvents(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeSuccess, testConfig(t))
	outputDir := t.TempDir()

	id, events, err := svc.Stream(t.Context(), entity.DownloadRequest{URL: testURL, OutputDir: outputDir})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collect(t, events)
	if len(got) < 2 {
		t.Fatalf("got %d events, want at least 2", len(got))
	}

	if got[0].Type != entity.EventStart || got[0].Message == "" {
		t.Errorf("first event = %+v, want start", got[0])
	}

	var progress []float64

	for _, event := range got[1 : len(got)-1] {
		if event.Type != entity.EventProgress {
			t.Fatalf("middle event type = %s, want progress", event.Type)
		}

		progress = append(progress, event.Percent)
	}

	if want := []float64{25.5, 50, 95}; !slices.Equal(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}

	last := got[len(got)-1]
	if last.Type != entity.EventComplete || last.Success == nil || !*last.Success {
		t.Fatalf("last event = %+v, want complete", last)
	}

	if last.FilePath != filepath.Join(outputDir, "My Clip.mp4") || last.OutputDir != outputDir {
		t.Errorf("complete event = %+v", last)
	}

	if _, err := os.Stat(last.FilePath); err != nil {
		t.Errorf("stat placed file: %v", err)
	}

	download, err := svc.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if download.Status != entity.DownloadStatusCompleted {
		t.Errorf("status = %s, want completed", download.Status)
	}
}

func TestStreamMissingOutputDirKeepsScratch(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, fakeytdlp.ModeSuccess, cfg)

	req := entity.DownloadRequest{URL: testURL, OutputDir: filepath.Join(t.TempDir(), "missing")}

	_, events, err := svc.Stream(t.Context(), req)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]

	if last.Type != entity.EventComplete || last.OutputDir != cfg.Dir.Scratch {
		t.Errorf("last event = %+v, want complete in scratch", last)
	}

	if last.FileName != "My Clip.mp4" {
		t.Errorf("file name = %q", last.FileName)
	}
}

func TestStreamFailure(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeFail, testConfig(t))

	_, events, err := svc.Stream(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]

	if last.Type != entity.EventError || last.Success == nil || *last.Success {
		t.Fatalf("last event = %+v, want error", last)
	}

	if !strings.Contains(last.Message, "exited with code 1") {
		t.Errorf("message = %q", last.Message)
	}
}

func TestStreamDisconnectCancels(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeSleep, testConfig(t))

	ctx, cancel := context.WithCancel(t.Context())

	id, events, err := svc.Stream(ctx, entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	waitStatus(t, svc, id, entity.DownloadStatusDownloading)
	cancel()

	collect(t, events)

	failed := waitStatus(t, svc, id, entity.DownloadStatusError)
	if failed.Error != errs.ErrDownloadCancelled.Error() {
		t.Errorf("error = %q, want cancelled", failed.Error)
	}
}

func TestDownloadTo(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeSuccess, testConfig(t))
	dir := t.TempDir()

	for _, want := range []string{"My Clip.mp4", "My Clip (1).mp4"} {
		download, err := svc.DownloadTo(t.Context(), entity.DownloadRequest{URL: testURL}, dir)
		if err != nil {
			t.Fatalf("DownloadTo() error = %v", err)
		}

		if download.Status != entity.DownloadStatusCompleted || download.Result == nil {
			t.Fatalf("record = %+v, want completed", download)
		}

		if download.Result.Path != filepath.Join(dir, want) {
			t.Errorf("path = %q, want %q", download.Result.Path, want)
		}
	}
}

func TestDownloadToFailure(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeNoFile, testConfig(t))

	_, err := svc.DownloadTo(t.Context(), entity.DownloadRequest{URL: testURL}, t.TempDir())
	if err == nil || err.Error() != errs.ErrOutputNotFound.Error() {
		t.Errorf("DownloadTo() error = %v, want %v", err, errs.ErrOutputNotFound)
	}
}

func TestGetMissing(t *testing.T) {
	svc := newTestService(t, fakeytdlp.ModeSuccess, testConfig(t))

	if _, err := svc.Get(t.Context(), ""); !errors.Is(err, errs.ErrDownloadIDEmpty) {
		t.Errorf("Get(\"\") error = %v", err)
	}

	if _, err := svc.Get(t.Context(), "missing"); !errors.Is(err, errs.ErrDownloadNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

// stubDownloader writes <id>_Clip.mp4 into the scratch dir. hook runs first; after runs once the file exists.
type stubDownloader struct {
	hook  func(ctx context.Context, id string) error
	after func(id string)
}

func (d *stubDownloader) Process(
	ctx context.Context,
	id string,
	_ entity.DownloadRequest,
	dir string,
	_ downloader.ProgressFunc,
) (string, error) {
	if d.hook != nil {
		if err := d.hook(ctx, id); err != nil {
			return "", err
		}
	}

	path := filepath.Join(dir, id+"_Clip.mp4")
	if err := os.WriteFile(path, []byte("clip"), 0o600); err != nil {
		return "", err
	}

	if d.after != nil {
		d.after(id)
	}

	return path, nil
}

// newStubService starts the service and returns it with a stop func that shuts it down and waits for it.
func newStubService(t *testing.T, cfg *config.Config, dl downloader.Downloader) (service.Downloads, func()) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())

	stg := storage.New(ctx, log, cfg, nil)
	svc := service.New(log, cfg, stg, dl, nil)

	svc.Start(ctx)

	stop := func() {
		cancel()
		svc.Wait()
		stg.Wait()
	}

	t.Cleanup(stop)

	return svc, stop
}

func TestStreamDestinationRemovedFallsBackToScratch(t *testing.T) {
	cfg := testConfig(t)

	dest := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	dl := &stubDownloader{hook: func(context.Context, string) error { return os.RemoveAll(dest) }}
	svc, _ := newStubService(t, cfg, dl)
	_, events, err := svc.Stream(t.Context(), entity.DownloadRequest{URL: testURL, OutputDir: dest})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]

	if last.Type != entity.EventComplete {
		t.Fatalf("terminal event = %s %q, want complete", last.Type, last.Message)
	}

	if last.FileName != "Clip.mp4" || filepath.Dir(last.FilePath) != filepath.Clean(cfg.Dir.Scratch) {
		t.Errorf("complete event = %+v, want Clip.mp4 in scratch", last)
	}

	if _, err := os.Stat(last.FilePath); err != nil {
		t.Errorf("scratch file: %v", err)
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("destination recreated: %v", err)
	}
}

func TestCancelAfterPlacementReportsCancelled(t *testing.T) {
	cfg := testConfig(t)
	dest := t.TempDir()

	var svc service.Downloads

	dl := &stubDownloader{after: func(id string) {
		if err := svc.Cancel(context.Background(), id); err != nil {
			t.Errorf("Cancel() error = %v", err)
		}
	}}

	svc, _ = newStubService(t, cfg, dl)
	id, events, err := svc.Stream(t.Context(), entity.DownloadRequest{URL: testURL, OutputDir: dest})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]

	if last.Type != entity.EventError || last.Message != errs.ErrDownloadCancelled.Error() {
		t.Errorf("terminal event = %s %q, want cancelled error", last.Type, last.Message)
	}

	download, err := svc.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if download.Status != entity.DownloadStatusError || download.Error != errs.ErrDownloadCancelled.Error() {
		t.Errorf("record = %s %q", download.Status, download.Error)
	}

	// the file already moved out of scratch is left to the user
	if _, err := os.Stat(filepath.Join(dest, "Clip.mp4")); err != nil {
		t.Errorf("placed file: %v", err)
	}
}

func TestShutdownFailsQueuedDownloads(t *testing.T) {
	cfg := testConfig(t)
	cfg.Job.Workers = 1

	started := make(chan struct{}, 1)

	dl := &stubDownloader{hook: func(ctx context.Context, _ string) error {
		started <- struct{}{}
		<-ctx.Done()

		return ctx.Err()
	}}

	svc, stop := newStubService(t, cfg, dl)
	running, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("first download did not start")
	}

	queued, err := svc.Download(t.Context(), entity.DownloadRequest{URL: testURL})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	stop()

	tests := []struct {
		id      string
		wantErr string
	}{
		{id: running.ID, wantErr: errs.ErrDownloadCancelled.Error()},
		{id: queued.ID, wantErr: errs.ErrServiceClosed.Error()},
	}

	for _, tc := range tests {
		download, err := svc.Get(t.Context(), tc.id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", tc.id, err)
		}

		if download.Status != entity.DownloadStatusError || download.Error != tc.wantErr {
			t.Errorf("record %s = %s %q, want error %q", tc.id, download.Status, download.Error, tc.wantErr)
		}
	}
}
