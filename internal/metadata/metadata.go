// Package metadata reads video and playlist metadata through the extractor.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"downloadflow/internal/config"
	"downloadflow/internal/consts"
	"downloadflow/internal/downloader"
	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
	"downloadflow/internal/observability"
	"downloadflow/internal/platform"
	"downloadflow/internal/proxymgr"
	"downloadflow/internal/runner"

	gocache "github.com/patrickmn/go-cache"
)

const (
	operationInfo     = "info"
	operationPlaylist = "playlist"

	liveStatusLive     = "is_live"
	liveStatusUpcoming = "is_upcoming"
	vcodecNone         = "none"
)

// PlatformError carries the classified platform of a failed lookup.
type PlatformError struct {
	Platform     platform.ID
	PlatformName string
	Err          error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %v", e.PlatformName, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// IsLive reports whether the lookup failed because the stream is live.
func (e *PlatformError) IsLive() bool { return errors.Is(e.Err, errs.ErrLiveStream) }

// IsUpcoming reports whether the lookup failed because the stream has not started.
func (e *PlatformError) IsUpcoming() bool { return errors.Is(e.Err, errs.ErrUpcomingStream) }

// Fetcher looks up metadata with the extractor and caches successful results.
type Fetcher struct {
	log      *slog.Logger
	cfg      *config.Config
	locator  downloader.Locator
	runner   *runner.Runner
	cache    *gocache.Cache
	proxyMgr *proxymgr.Manager
	metrics  *observability.Metrics
}

// New creates a metadata fetcher. proxyMgr and metrics may be nil.
func New(
	log *slog.Logger,
	cfg *config.Config,
	locator downloader.Locator,
	run *runner.Runner,
	proxyMgr *proxymgr.Manager,
	metrics *observability.Metrics,
) *Fetcher {
	return &Fetcher{
		log:      log.With(slog.String("package", "metadata")),
		cfg:      cfg,
		locator:  locator,
		runner:   run,
		cache:    gocache.New(cfg.Info.CacheTTL, cfg.Info.CacheCleanup),
		proxyMgr: proxyMgr,
		metrics:  metrics,
	}
}

type rawFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Height     float64 `json:"height"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	FileSize   float64 `json:"filesize"`
	TBR        float64 `json:"tbr"`
	FormatNote string  `json:"format_note"`
}

type rawInfo struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Thumbnail   string      `json:"thumbnail"`
	Duration    float64     `json:"duration"`
	Uploader    string      `json:"uploader"`
	Channel     string      `json:"channel"`
	Creator     string      `json:"creator"`
	ViewCount   float64     `json:"view_count"`
	UploadDate  string      `json:"upload_date"`
	Description string      `json:"description"`
	IsLive      bool        `json:"is_live"`
	LiveStatus  string      `json:"live_status"`
	Formats     []rawFormat `json:"formats"`
}

// FetchInfo returns the metadata of a single video. Every error is a *PlatformError.
func (f *Fetcher) FetchInfo(ctx context.Context, rawURL string) (*entity.VideoInfo, error) {
	id := platform.Classify(rawURL)
	capability := id.Capability()

	fail := func(err error) error {
		return &PlatformError{Platform: id, PlatformName: capability.Name, Err: err}
	}

	target := rawURL
	if id == platform.YouTube {
		target = CleanYouTubeURL(rawURL)
	}

	log := f.log.With(slog.String("url", target), slog.String("platform", string(id)))

	if cached, ok := f.cache.Get(target); ok {
		if info, ok := cached.(*entity.VideoInfo); ok {
			f.metrics.RecordInfoCache(true)
			log.DebugContext(ctx, "info cache hit")

			return info, nil
		}
	}

	f.metrics.RecordInfoCache(false)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Info.Timeout)
	defer cancel()

	args := []string{"--dump-json", "--no-playlist", "--ignore-errors"}
	args = append(args, f.commonArgs()...)

	proxy := f.proxyMgr.Pick()
	if proxy != "" {
		args = append(args, "--proxy", proxy)
	}

	args = append(args, target)

	stdout, err := f.runner.Run(ctx, f.locator.LocateExtractor(), args...)
	if err != nil {
		if ctx.Err() == nil {
			f.proxyMgr.MarkFailed(proxy)
		}

		f.metrics.RecordExtractorRequest(operationInfo, "error")
		f.metrics.RecordExtractorError(operationInfo, downloader.ClassifyError(err))
		log.WarnContext(ctx, "info lookup failed", slog.Any("error", err))

		return nil, fail(fmt.Errorf("yt-dlp info: %w", err))
	}

	f.proxyMgr.MarkSuccess(proxy)

	raw, err := firstJSON[rawInfo](stdout)
	if err != nil {
		f.metrics.RecordExtractorRequest(operationInfo, "error")

		return nil, fail(err)
	}

	switch {
	case raw.IsLive || raw.LiveStatus == liveStatusLive:
		f.metrics.RecordExtractorRequest(operationInfo, "live")

		return nil, fail(errs.ErrLiveStream)
	case raw.LiveStatus == liveStatusUpcoming:
		f.metrics.RecordExtractorRequest(operationInfo, "upcoming")

		return nil, fail(errs.ErrUpcomingStream)
	}

	info := buildInfo(raw, id, capability)

	f.cache.Set(target, info, gocache.DefaultExpiration)
	f.metrics.RecordExtractorRequest(operationInfo, "ok")

	log.InfoContext(ctx, "info retrieved", slog.Any("info", info))

	return info, nil
}

func (f *Fetcher) commonArgs() []string {
	args := []string{"--user-agent", f.cfg.Tools.UserAgent}

	if f.cfg.Dir.Cache != "" {
		args = append(args, "--cache-dir", f.cfg.Dir.Cache)
	}

	if f.cfg.Dir.CookieFile != "" {
		args = append(args, "--cookies", f.cfg.Dir.CookieFile)
	}

	return args
}

func buildInfo(raw rawInfo, id platform.ID, capability platform.Capability) *entity.VideoInfo {
	uploader := firstNonEmpty(raw.Uploader, raw.Channel, raw.Creator, capability.Name)

	description := raw.Description
	if runes := []rune(description); len(runes) > consts.DescriptionLimit {
		description = string(runes[:consts.DescriptionLimit])
	}

	formats := make([]entity.Format, 0, len(raw.Formats))
	for _, rf := range raw.Formats {
		formats = append(formats, entity.Format{
			FormatID:   rf.FormatID,
			Ext:        rf.Ext,
			Height:     int(rf.Height),
			VCodec:     rf.VCodec,
			ACodec:     rf.ACodec,
			FileSize:   int64(rf.FileSize),
			TBR:        rf.TBR,
			FormatNote: rf.FormatNote,
		})
	}

	qualities := []int{}
	if capability.SupportsQuality {
		qualities = Qualities(formats)
	}

	return &entity.VideoInfo{
		ID:               raw.ID,
		Title:            raw.Title,
		Thumbnail:        raw.Thumbnail,
		Duration:         raw.Duration,
		Uploader:         uploader,
		ViewCount:        int64(raw.ViewCount),
		UploadDate:       raw.UploadDate,
		Description:      description,
		Qualities:        qualities,
		Formats:          formats,
		Platform:         string(id),
		PlatformName:     capability.Name,
		PlatformIcon:     capability.Icon,
		SupportsQuality:  capability.SupportsQuality,
		SupportsTrim:     capability.SupportsTrim,
		SupportsPlaylist: capability.SupportsPlaylist,
		AudioOnly:        capability.AudioOnly,
	}
}

// Qualities returns the distinct heights of formats that carry video, highest first.
func Qualities(formats []entity.Format) []int {
	heights := make([]int, 0, len(formats))

	for _, format := range formats {
		if format.Height <= 0 || format.VCodec == "" || format.VCodec == vcodecNone {
			continue
		}

		heights = append(heights, format.Height)
	}

	slices.Sort(heights)
	heights = slices.Compact(heights)
	slices.Reverse(heights)

	return heights
}

// firstJSON decodes the first line of out that parses as T.
func firstJSON[T any](out string) (T, error) {
	var zero T

	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var v T
		if err := json.Unmarshal([]byte(line), &v); err == nil {
			return v, nil
		}
	}

	return zero, errs.ErrNoMetadata
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}
