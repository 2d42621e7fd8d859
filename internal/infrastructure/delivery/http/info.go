package httprouter

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"downloadflow/internal/consts"
	"downloadflow/internal/errs"
	"downloadflow/internal/infrastructure/delivery/http/response"
	"downloadflow/internal/metadata"
	"downloadflow/internal/platform"
	"downloadflow/pkg/urls"
)

// infoErrorData is the data of a failed info lookup.
type infoErrorData struct {
	Platform     platform.ID `json:"platform"`
	PlatformName string      `json:"platformName"`
	IsLive       bool        `json:"isLive"`
	IsUpcoming   bool        `json:"isUpcoming"`
}

func (r *Router) GetInfo(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "GetInfo")
	ctx := req.Context()

	rawURL := strings.TrimSpace(req.URL.Query().Get("url"))
	if !urls.IsURLValid(rawURL) {
		log.DebugContext(ctx, consts.RespQueryParamMissing, slog.String("url", rawURL))
		response.BadRequest(w, consts.RespQueryParamMissing, nil, errs.ErrInvalidURL)

		return
	}

	info, err := r.info.FetchInfo(ctx, rawURL)
	if err != nil {
		var platformErr *metadata.PlatformError

		if !errors.As(err, &platformErr) {
			log.ErrorContext(ctx, consts.RespInfoFailed, slog.Any("error", err))
			response.InternalServerError(w, consts.RespInfoFailed, nil, err)

			return
		}

		data := infoErrorData{
			Platform:     platformErr.Platform,
			PlatformName: platformErr.PlatformName,
			IsLive:       platformErr.IsLive(),
			IsUpcoming:   platformErr.IsUpcoming(),
		}

		if data.IsLive || data.IsUpcoming {
			log.InfoContext(ctx, consts.RespInfoFailed, slog.Any("error", err))
			response.BadRequest(w, consts.RespInfoFailed, data, platformErr.Err)

			return
		}

		log.ErrorContext(ctx, consts.RespInfoFailed, slog.Any("error", err))
		response.InternalServerError(w, consts.RespInfoFailed, data, platformErr.Err)

		return
	}

	response.OK(w, consts.RespInfoRetrieved, info, nil)
}

func (r *Router) DetectPlaylist(w http.ResponseWriter, req *http.Request) {
	log := r.log.With("handler", "DetectPlaylist")
	ctx := req.Context()

	rawURL := strings.TrimSpace(req.URL.Query().Get("url"))
	if !urls.IsURLValid(rawURL) {
		log.DebugContext(ctx, consts.RespQueryParamMissing, slog.String("url", rawURL))
		response.BadRequest(w, consts.RespQueryParamMissing, nil, errs.ErrInvalidURL)

		return
	}

	response.OK(w, consts.RespPlaylistDetected, r.info.Detect(ctx, rawURL), nil)
}
