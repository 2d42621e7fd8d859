// Package downloader runs the extractor for a single download and places its output.
package downloader

import (
	"context"
	"errors"

	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/runner"
)

// ProgressFunc receives every parsed percentage along with the raw output line.
type ProgressFunc func(percent float64, raw string)

// Downloader runs one download into dir and returns the path of the produced file.
// The file name starts with id followed by an underscore.
type Downloader interface {
	Process(ctx context.Context, id string, req entity.DownloadRequest, dir string, onProgress ProgressFunc) (string, error)
}

// Locator resolves the extractor binary and the muxer directory.
type Locator interface {
	LocateExtractor() string
	LocateMuxerDir() string
}

// ClassifyError returns a short label for metrics.
func ClassifyError(err error) string {
	var exitErr *runner.ExitError

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errs.ErrSpawn):
		return "spawn"
	case errors.Is(err, errs.ErrOutputNotFound):
		return "no_output"
	case errors.As(err, &exitErr):
		return "exit"
	default:
		return "process"
	}
}
