// Package httprouter exposes the download core over HTTP: JSON endpoints, server-sent
// event streams, file delivery and the static UI.
package httprouter

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"downloadflow/internal/batch"
	"downloadflow/internal/config"
	"downloadflow/internal/entity"
	"downloadflow/internal/infrastructure/delivery/http/middleware"
	"downloadflow/internal/observability"
	"downloadflow/internal/service"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// corsMaxAge is how long browsers may cache preflight responses, in seconds.
const corsMaxAge = 300

// InfoFetcher looks up metadata and playlists.
type InfoFetcher interface {
	FetchInfo(ctx context.Context, url string) (*entity.VideoInfo, error)
	Detect(ctx context.Context, url string) entity.PlaylistInfo
}

// Packager runs batches.
type Packager interface {
	Package(ctx context.Context, reqs []entity.DownloadRequest) (*batch.Result, error)
	Release(res *batch.Result)
}

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	cfg         *config.Config
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool

	svc      service.Downloads
	info     InfoFetcher
	packager Packager
	metrics  *observability.Metrics
	limiter  *middleware.RateLimiter
}

// New builds the router. ctx bounds background work such as rate limiter cleanup. metrics may be nil.
func New(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	svc service.Downloads,
	info InfoFetcher,
	packager Packager,
	metrics *observability.Metrics,
) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		svc:      svc,
		info:     info,
		packager: packager,
		metrics:  metrics,
		limiter:  middleware.NewRateLimiter(ctx, cfg.HTTP.RateLimitRPM, cfg.HTTP.RateLimitBurst, metrics),
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux,
	}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}

	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		chimiddleware.RealIP,
		middleware.Logger,
		middleware.Metrics(r.metrics),
		cors.Handler(cors.Options{
			AllowedOrigins: r.cfg.HTTP.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.HeaderXRequestID},
			ExposedHeaders: []string{"Content-Disposition", middleware.HeaderXRequestID, "Retry-After"},
			MaxAge:         corsMaxAge,
		}),
	)
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesInfo()
	r.SetRoutesDownloads()
	r.SetRoutesStatic()
}

func (r *Router) SetRoutesHealthcheck() {
	r.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("GET /metrics", observability.Handler())
}

func (r *Router) SetRoutesInfo() {
	r.Group(func(sub *Router) {
		sub.Use(middleware.RateLimit(r.limiter))

		sub.HandleFunc("GET /v1/info", r.GetInfo)
		sub.HandleFunc("GET /v1/detect", r.DetectPlaylist)
	})
}

func (r *Router) SetRoutesDownloads() {
	r.Group(func(sub *Router) {
		sub.Use(middleware.RateLimit(r.limiter))

		sub.HandleFunc("POST /v1/downloads", r.StartDownload)
		sub.HandleFunc("GET /v1/downloads/stream", r.StreamDownload)
		sub.HandleFunc("GET /v1/downloads/direct", r.DirectDownload)
		sub.HandleFunc("POST /v1/downloads/batch", r.BatchDownload)
	})

	r.HandleFunc("GET /v1/downloads/{id}", r.GetDownload)
	r.HandleFunc("GET /v1/downloads/{id}/file", r.GetDownloadFile)
	r.HandleFunc("DELETE /v1/downloads/{id}", r.CancelDownload)
}

// SetRoutesStatic serves the UI from <AppPath>/public when that directory exists.
func (r *Router) SetRoutesStatic() {
	if r.cfg.Dir.AppPath == "" {
		return
	}

	public := filepath.Join(r.cfg.Dir.AppPath, "public")

	info, err := os.Stat(public)
	if err != nil || !info.IsDir() {
		r.log.Info("static UI not found", slog.String("dir", public))

		return
	}

	r.Handle("GET /", http.FileServer(http.Dir(public)))
}
