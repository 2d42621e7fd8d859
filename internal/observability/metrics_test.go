package observability_test

import (
	"testing"
	"time"

	"downloadflow/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, metric prometheus.Metric) float64 {
	t.Helper()

	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}

	switch {
	case out.GetGauge() != nil:
		return out.GetGauge().GetValue()
	case out.GetCounter() != nil:
		return out.GetCounter().GetValue()
	default:
		t.Fatalf("unsupported metric type")

		return 0
	}
}

func TestNilMetrics(t *testing.T) {
	var m *observability.Metrics

	m.RecordDownloadCreated()
	m.RecordDownloadCompleted(10)
	m.RecordDownloadFailed("process")
	m.RecordQueueRejected()
	m.RecordCleanup(1, 1)
	m.SetStoredRecords(1)
	m.RecordInfoCache(true)
	m.RecordBatch("ok")
	m.RecordExtractorRequest("download", "ok")
	m.RecordExtractorError("download", "exit")
	m.RecordHTTPRequest("GET", "/", 200, time.Second)
	m.RecordRateLimited()
	m.RecordProxyRequest("p")
	m.RecordProxyFailure("p")
	m.SetProxiesAvailable(1)
	m.DownloadTimer()()
}

func TestDownloadLifecycle(t *testing.T) {
	m := observability.NewWithRegisterer(prometheus.NewRegistry())

	m.RecordDownloadCreated()
	m.RecordDownloadCreated()
	m.RecordDownloadCompleted(2048)
	m.RecordDownloadFailed("canceled")

	if got := value(t, m.DownloadsInProgress); got != 0 {
		t.Errorf("in progress = %v, want 0", got)
	}

	if got := value(t, m.DownloadBytes); got != 2048 {
		t.Errorf("bytes = %v, want 2048", got)
	}

	if got := value(t, m.DownloadsFailed.WithLabelValues("canceled")); got != 1 {
		t.Errorf("failed{canceled} = %v, want 1", got)
	}
}
