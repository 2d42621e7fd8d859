//go:build integration

package integration_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"downloadflow/internal/entity"
)

func TestFetchInfo(t *testing.T) {
	fx := newFixture(t)

	info, err := fx.info.FetchInfo(t.Context(), fx.videoURL)
	if err != nil {
		t.Fatalf("FetchInfo() error = %v", err)
	}

	if info.Title == "" || info.Duration <= 0 {
		t.Errorf("info = %+v, want title and duration", info)
	}

	if len(info.Qualities) == 0 {
		t.Error("no qualities reported")
	}
}

func TestDownloadToDir(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()
	quality := 360

	record, err := fx.svc.DownloadTo(t.Context(), entity.DownloadRequest{URL: fx.videoURL, Quality: &quality}, dir)
	if err != nil {
		t.Fatalf("DownloadTo() error = %v", err)
	}

	if record.Status != entity.DownloadStatusCompleted || record.Progress != 100 {
		t.Errorf("record = %s %.1f", record.Status, record.Progress)
	}

	if filepath.Dir(record.Result.Path) != dir {
		t.Errorf("path = %q, want inside %q", record.Result.Path, dir)
	}

	stat, err := os.Stat(record.Result.Path)
	if err != nil {
		t.Fatalf("stat result: %v", err)
	}

	if stat.Size() == 0 || stat.Size() != record.Result.Size {
		t.Errorf("size = %d, record says %d", stat.Size(), record.Result.Size)
	}
}

func TestStreamAudioOverHTTP(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()

	query := url.Values{"url": {fx.videoURL}, "audioOnly": {"true"}, "outputDir": {dir}}

	resp, err := http.Get(fx.server.URL + "/v1/downloads/stream?" + query.Encode())
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}

	blocks := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	last := blocks[len(blocks)-1]

	if !strings.HasPrefix(last, "event: complete\n") {
		t.Fatalf("last event = %q", last)
	}

	var done entity.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(last, "event: complete\ndata: ")), &done); err != nil {
		t.Fatalf("decode complete event: %v", err)
	}

	if filepath.Ext(done.FileName) != ".mp3" || done.OutputDir != dir {
		t.Errorf("complete = %+v", done)
	}
}
