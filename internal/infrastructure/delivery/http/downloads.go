package httprouter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"downloadflow/internal/batch"
	"downloadflow/internal/consts"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/infrastructure/delivery/http/request"
	"downloadflow/internal/infrastructure/delivery/http/response"
)

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 1 << 20

	directDownloadPath = "/v1/downloads/direct"
)

type downloadStarted struct {
	DownloadID string `json:"downloadId"`
}

type batchIndividual struct {
	Mode batch.Mode `json:"mode"`
	URLs []string   `json:"urls"`
}

func (r *Router) StartDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "StartDownload")
	ctx := req.Context()

	var in request.Download
	if err := request.Decode(http.MaxBytesReader(w, req.Body, maxBodyBytes), &in); err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	dlReq, err := in.ToEntity()
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	download, err := r.svc.Download(ctx, dlReq)
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	log.InfoContext(ctx, consts.RespDownloadStarted, slog.String("download_id", download.ID))

	response.Accepted(w, consts.RespDownloadStarted, downloadStarted{DownloadID: download.ID}, nil)
}

func (r *Router) GetDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "GetDownload")

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HTTP.HandlerTimeout)
	defer cancel()

	download, err := r.svc.Get(ctx, req.PathValue("id"))
	if err != nil {
		log.DebugContext(ctx, consts.RespDownloadNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespDownloadNotFound, err)

		return
	}

	response.OK(w, consts.RespDownloadRetrieved, download, nil)
}

func (r *Router) GetDownloadFile(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "GetDownloadFile")
	ctx := req.Context()
	id := req.PathValue("id")

	artifact, err := r.svc.Artifact(ctx, id)

	switch {
	case errors.Is(err, errs.ErrDownloadNotCompleted):
		log.DebugContext(ctx, consts.RespDownloadNotReady, slog.String("download_id", id))
		response.NotFound(w, consts.RespDownloadNotReady, err)

		return
	case err != nil:
		log.DebugContext(ctx, consts.RespDownloadNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespDownloadNotFound, err)

		return
	}

	if err := response.Attachment(w, req, artifact.Path, artifact.Name); err != nil {
		log.ErrorContext(ctx, consts.RespFileNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespFileNotFound, err)

		return
	}

	r.svc.Release(ctx, id)
}

func (r *Router) CancelDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "CancelDownload")

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HTTP.HandlerTimeout)
	defer cancel()

	id := req.PathValue("id")

	err := r.svc.Cancel(ctx, id)

	switch {
	case errors.Is(err, errs.ErrDownloadNotFound), errors.Is(err, errs.ErrDownloadIDEmpty):
		log.DebugContext(ctx, consts.RespDownloadNotFound, slog.String("download_id", id))
		response.NotFound(w, consts.RespDownloadNotFound, err)
	case err != nil:
		log.DebugContext(ctx, consts.RespDownloadCancelFail, slog.Any("error", err))
		response.Conflict(w, consts.RespDownloadCancelFail, err)
	default:
		response.OK(w, consts.RespDownloadCancelled, nil, nil)
	}
}

// StreamDownload runs a download and reports it as server-sent events until the terminal event.
func (r *Router) StreamDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "StreamDownload")
	ctx := req.Context()

	dlReq, err := request.FromQuery(req.URL.Query())
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	id, events, err := r.svc.Stream(ctx, dlReq)
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	log = log.With(slog.String("download_id", id))

	stream, err := response.NewEventStream(w)
	if err != nil {
		log.ErrorContext(ctx, "open event stream", slog.Any("error", err))

		return
	}

	for event := range events {
		if err := stream.Send(string(event.Type), event); err != nil {
			log.DebugContext(ctx, "client gone", slog.Any("error", err))

			return
		}
	}
}

// DirectDownload runs a download to completion and sends the file in the response.
func (r *Router) DirectDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "DirectDownload")
	ctx := req.Context()

	dlReq, err := request.FromQuery(req.URL.Query())
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	dlReq.OutputDir = ""

	download, err := r.svc.DownloadTo(ctx, dlReq, "")
	if err != nil {
		if isSubmitError(err) {
			r.writeSubmitError(ctx, w, log, err)

			return
		}

		log.ErrorContext(ctx, consts.RespDownloadFailed, slog.Any("error", err))
		response.InternalServerError(w, consts.RespDownloadFailed, nil, err)

		return
	}

	defer r.svc.Release(context.WithoutCancel(ctx), download.ID)

	if err := response.Attachment(w, req, download.Result.Path, download.Result.Name); err != nil {
		log.ErrorContext(ctx, consts.RespFileNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespFileNotFound, err)
	}
}

// BatchDownload archives three or more videos into one zip, or returns direct download URLs for fewer.
func (r *Router) BatchDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "BatchDownload")
	ctx := req.Context()

	var in request.Batch
	if err := request.Decode(http.MaxBytesReader(w, req.Body, maxBodyBytes), &in); err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	reqs, err := in.ToEntities()
	if err != nil {
		r.writeSubmitError(ctx, w, log, err)

		return
	}

	res, err := r.packager.Package(ctx, reqs)
	if err != nil {
		if isSubmitError(err) {
			r.writeSubmitError(ctx, w, log, err)

			return
		}

		log.ErrorContext(ctx, consts.RespBatchFailed, slog.Any("error", err))
		response.InternalServerError(w, consts.RespBatchFailed, nil, err)

		return
	}

	if res.Mode == batch.ModeIndividual {
		response.OK(w, consts.RespBatchIndividual, batchIndividual{Mode: res.Mode, URLs: directURLs(res.Requests)}, nil)

		return
	}

	defer r.packager.Release(res)

	if err := response.Attachment(w, req, res.ArchivePath, consts.BatchArchiveName); err != nil {
		log.ErrorContext(ctx, consts.RespFileNotFound, slog.Any("error", err))
		response.NotFound(w, consts.RespFileNotFound, err)
	}
}

func directURLs(reqs []entity.DownloadRequest) []string {
	out := make([]string, 0, len(reqs))

	for _, req := range reqs {
		out = append(out, directDownloadPath+"?"+request.ToQuery(req).Encode())
	}

	return out
}

// isSubmitError reports whether err was raised before any download work started.
func isSubmitError(err error) bool {
	return errors.Is(err, errs.ErrInvalidRequestBody) ||
		isValidationError(err) ||
		errors.Is(err, errs.ErrQueueFull) ||
		errors.Is(err, errs.ErrServiceClosed)
}

func isValidationError(err error) bool {
	return errors.Is(err, errs.ErrInvalidURL) ||
		errors.Is(err, errs.ErrInvalidQuality) ||
		errors.Is(err, errs.ErrInvalidTrim) ||
		errors.Is(err, errs.ErrEmptyBatch)
}

func (r *Router) writeSubmitError(ctx context.Context, w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidRequestBody):
		log.DebugContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, nil, err)
	case isValidationError(err):
		log.DebugContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)
	case errors.Is(err, errs.ErrQueueFull):
		log.WarnContext(ctx, consts.RespQueueFull, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespQueueFull, err)
	case errors.Is(err, errs.ErrServiceClosed):
		log.WarnContext(ctx, consts.RespDownloadStartFail, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespDownloadStartFail, err)
	default:
		log.ErrorContext(ctx, consts.RespDownloadStartFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespDownloadStartFail, nil, err)
	}
}
