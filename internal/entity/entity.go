// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"

	"downloadflow/internal/errs"
	"downloadflow/pkg/urls"
)

// DownloadStatus represents the status of a download.
type DownloadStatus string

const (
	// DownloadStatusStarting indicates that the download is accepted and is about to start.
	DownloadStatusStarting DownloadStatus = "starting"
	// DownloadStatusDownloading indicates that the extractor is running.
	DownloadStatusDownloading DownloadStatus = "downloading"
	// DownloadStatusCompleted indicates that the download finished and the file is in place.
	DownloadStatusCompleted DownloadStatus = "completed"
	// DownloadStatusError indicates that the download failed or was cancelled.
	DownloadStatusError DownloadStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusError
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s DownloadStatus) CanTransition(next DownloadStatus) bool {
	switch s {
	case DownloadStatusStarting:
		return next == DownloadStatusDownloading || next == DownloadStatusError
	case DownloadStatusDownloading:
		return next == DownloadStatusDownloading || next == DownloadStatusCompleted || next == DownloadStatusError
	default:
		return false
	}
}

// TrimWindow is a time range in seconds to keep from the source media.
type TrimWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DownloadRequest describes what to fetch and how.
type DownloadRequest struct {
	URL       string      `json:"url"`
	Quality   *int        `json:"quality,omitempty"` // target video height
	AudioOnly bool        `json:"audioOnly"`
	Trim      *TrimWindow `json:"trim,omitempty"`
	// PreciseTrim re-encodes around the cut points for frame-exact trims.
	PreciseTrim bool `json:"preciseTrim,omitempty"`
	// OutputDir is where a streamed download is placed. Ignored by polled downloads.
	OutputDir string `json:"outputDir,omitempty"`
}

// Validate checks the request fields before any work is scheduled.
func (r DownloadRequest) Validate() error {
	if !urls.IsURLValid(r.URL) {
		return errs.ErrInvalidURL
	}

	if r.Quality != nil && *r.Quality <= 0 {
		return errs.ErrInvalidQuality
	}

	if r.Trim != nil && (r.Trim.Start < 0 || r.Trim.Start >= r.Trim.End) {
		return errs.ErrInvalidTrim
	}

	return nil
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r DownloadRequest) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("url", r.URL),
		slog.Bool("audioOnly", r.AudioOnly),
	}

	if r.Quality != nil {
		attrs = append(attrs, slog.Int("quality", *r.Quality))
	}

	if r.Trim != nil {
		attrs = append(attrs, slog.Float64("trimStart", r.Trim.Start), slog.Float64("trimEnd", r.Trim.End))
	}

	if r.OutputDir != "" {
		attrs = append(attrs, slog.String("outputDir", r.OutputDir))
	}

	return slog.GroupValue(attrs...)
}

// ResultFile is the file a completed download produced.
type ResultFile struct {
	Path string `json:"path"`
	Name string `json:"name"` // friendly name, without the id prefix
	Size int64  `json:"size"`
}

// Download is the record of a single download.
type Download struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Request      DownloadRequest `json:"request"`
	Status       DownloadStatus  `json:"status"`
	Progress     float64         `json:"progress"`
	Result       *ResultFile     `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	EstimatedETA time.Duration   `json:"estimatedEta"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// Clone returns a deep copy that callers may keep without holding store locks.
func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}

	out := *d

	if d.Result != nil {
		result := *d.Result
		out.Result = &result
	}

	if d.Request.Quality != nil {
		quality := *d.Request.Quality
		out.Request.Quality = &quality
	}

	if d.Request.Trim != nil {
		trim := *d.Request.Trim
		out.Request.Trim = &trim
	}

	return &out
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (d Download) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", d.ID),
		slog.String("url", d.URL),
		slog.String("status", string(d.Status)),
		slog.Float64("progress", d.Progress),
		slog.Duration("estimatedEta", d.EstimatedETA),
	}

	if d.Result != nil {
		attrs = append(attrs, slog.String("path", d.Result.Path), slog.Int64("size", d.Result.Size))
	}

	if d.Error != "" {
		attrs = append(attrs, slog.String("error", d.Error))
	}

	return slog.GroupValue(attrs...)
}
