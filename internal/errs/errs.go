// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new downloads.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the URL field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidQuality indicates that the requested quality is not a positive height.
	ErrInvalidQuality = errors.New("invalid quality field")
	// ErrInvalidTrim indicates that the trim window is malformed.
	ErrInvalidTrim = errors.New("invalid trim window")
	// ErrEmptyBatch indicates that a batch request carried no videos.
	ErrEmptyBatch = errors.New("batch has no videos")
)

// Download and storage errors.
var (
	// ErrDownloadNotFound indicates that the download record is not found in storage.
	ErrDownloadNotFound = errors.New("download not found")
	// ErrDownloadIDEmpty indicates that the download ID is empty.
	ErrDownloadIDEmpty = errors.New("download id is empty")
	// ErrDownloadCancelled indicates that the download was cancelled.
	ErrDownloadCancelled = errors.New("download cancelled")
	// ErrDownloadNotCompleted indicates that the artifact was requested before completion.
	ErrDownloadNotCompleted = errors.New("download not completed")
	// ErrDownloadTerminal indicates that the download already reached a terminal state.
	ErrDownloadTerminal = errors.New("download already finished")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQueueFull indicates that the download queue is full.
	ErrQueueFull = errors.New("download queue is full")
)

// Extractor errors.
var (
	// ErrSpawn indicates that the external process could not be started.
	ErrSpawn = errors.New("spawn process")
	// ErrOutputNotFound indicates that the extractor exited cleanly but left no output file.
	ErrOutputNotFound = errors.New("file not found")
	// ErrNoMetadata indicates that the extractor printed no parseable metadata.
	ErrNoMetadata = errors.New("no metadata in extractor output")
	// ErrLiveStream indicates that the URL points at a stream that is live right now.
	ErrLiveStream = errors.New("live streams cannot be downloaded")
	// ErrUpcomingStream indicates that the URL points at a stream that has not started.
	ErrUpcomingStream = errors.New("stream has not started yet")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
