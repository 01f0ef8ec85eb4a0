package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/mms-asr/internal/api"
	"github.com/gaspardpetit/mms-asr/internal/asr"
	"github.com/gaspardpetit/mms-asr/internal/config"
	"github.com/gaspardpetit/mms-asr/internal/inflight"
	"github.com/gaspardpetit/mms-asr/internal/logx"
	"github.com/gaspardpetit/mms-asr/internal/metrics"
	"github.com/gaspardpetit/mms-asr/internal/serverstate"
	"github.com/gaspardpetit/mms-asr/internal/transcribe"
)

// Deps are the collaborators shared by the HTTP handlers.
type Deps struct {
	Service  *asr.Service
	State    *serverstate.State
	// Jobs tracks running /asr requests for draining and /healthz.
	Jobs *inflight.Tracker
	// Registry backs /metrics when it is served on the main port. A fresh
	// registry with the service collectors is used when nil.
	Registry *prometheus.Registry
	// FreeBytes overrides the disk probe used by /healthz.
	FreeBytes api.FreeBytesFunc
}

func formatNames() []string {
	out := make([]string, len(transcribe.Formats))
	for i, f := range transcribe.Formats {
		out[i] = string(f)
	}
	return out
}

// New constructs the HTTP handler for the service.
func New(cfg config.ServiceConfig, deps Deps) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Asr-Engine", "Content-Disposition", "Audio-Digest"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	if deps.State == nil {
		deps.State = serverstate.New(nil)
	}
	if deps.Jobs == nil {
		deps.Jobs = &inflight.Tracker{}
	}
	preg := deps.Registry
	if preg == nil {
		preg = prometheus.NewRegistry()
		metrics.Register(preg)
	}

	base := cfg.BaseURL
	doc := api.NewDocument(api.DocumentOptions{
		Docs:      cfg.Docs,
		BaseURL:   base,
		Languages: cfg.Languages,
		Formats:   formatNames(),
	})
	localAssets := api.HasLocalAssets(cfg.Docs.AssetsDir)
	if !localAssets {
		logx.Log.Debug().Str("dir", cfg.Docs.AssetsDir).Msg("swagger assets not found; using CDN")
	}
	asrHandler := &asr.Handler{
		Service:        deps.Service,
		Languages:      cfg.Languages,
		MaxUploadBytes: cfg.Audio.MaxUploadBytes,
		State:          deps.State,
	}

	routes := func(rt chi.Router) {
		rt.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, base+"/docs", http.StatusTemporaryRedirect)
		})
		rt.Get("/docs", api.SwaggerHandler(api.NewDocsPage(cfg.Docs.Title, base, localAssets)))
		rt.Get("/openapi.json", api.OpenAPIHandler(doc))
		if localAssets {
			rt.Handle("/assets/*", api.AssetsHandler(base+"/assets/", cfg.Docs.AssetsDir))
		}
		rt.Group(func(g chi.Router) {
			g.Use(api.APIKeyMiddleware(cfg.APIKey))
			g.Use(deps.Jobs.Middleware())
			g.Method(http.MethodPost, "/asr", asrHandler)
		})
	}
	if base == "" {
		routes(r)
	} else {
		r.Route(base, routes)
	}

	r.Handle("/healthz", &api.Health{
		State:        deps.State,
		TempDir:      cfg.Audio.TempDir,
		MinFreeBytes: cfg.Audio.MinFreeBytes,
		FreeBytes:    deps.FreeBytes,
		Jobs:         deps.Jobs,
	})
	if cfg.MetricsOnMainPort() {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}

// MetricsHandler serves preg on its own listener.
func MetricsHandler(preg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	return mux
}
