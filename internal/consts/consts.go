// Package consts defines application-wide constants.
package consts

// Extractor output shaping.
const (
	// FullProgress is the progress of a completed download.
	FullProgress = 100
	// StderrTailLimit is the number of trailing stderr bytes kept in error messages.
	StderrTailLimit = 500
	// DescriptionLimit is the maximum length of a video description in metadata.
	DescriptionLimit = 200
	// BatchIndividualThreshold is the batch size below which videos are downloaded one by one.
	BatchIndividualThreshold = 3
	// BatchArchiveName is the filename a batch archive is delivered under.
	BatchArchiveName = "Videownload_Videos.zip"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespDownloadStarted is returned when a download is accepted.
	RespDownloadStarted = "download started"
	// RespDownloadStartFail is returned when a download cannot be accepted.
	RespDownloadStartFail = "download start failed"
	// RespDownloadRetrieved is returned when a download record is retrieved.
	RespDownloadRetrieved = "download retrieved"
	// RespDownloadNotFound is returned when a download record is not found.
	RespDownloadNotFound = "download not found"
	// RespDownloadNotReady is returned when the artifact is requested before completion.
	RespDownloadNotReady = "download not completed"
	// RespDownloadCancelled is returned when a download is cancelled.
	RespDownloadCancelled = "download cancelled"
	// RespDownloadCancelFail is returned when a download cannot be cancelled.
	RespDownloadCancelFail = "download cancel failed"
	// RespDownloadFailed is returned when a synchronous download fails.
	RespDownloadFailed = "download failed"
	// RespInfoRetrieved is returned when metadata is retrieved.
	RespInfoRetrieved = "info retrieved"
	// RespInfoFailed is returned when metadata cannot be retrieved.
	RespInfoFailed = "info failed"
	// RespPlaylistDetected is returned when playlist detection finishes.
	RespPlaylistDetected = "playlist detection done"
	// RespBatchIndividual is returned when a batch is too small to archive.
	RespBatchIndividual = "batch downloads individually"
	// RespBatchFailed is returned when a batch archive cannot be produced.
	RespBatchFailed = "batch failed"
	// RespQueueFull is returned when the download queue is full.
	RespQueueFull = "download queue is full"
	// RespRateLimited is returned when a client exceeds the request rate.
	RespRateLimited = "rate limit exceeded"
	// RespInternalError is returned when a handler panics.
	RespInternalError = "internal server error"
)

// Files.
const (
	// RespFileNotFound is returned when a file is not found.
	RespFileNotFound = "file not found"
)
