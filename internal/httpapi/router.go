// Package httpapi wires the refinery HTTP routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"refinery/internal/httpapi/handlers"
	"refinery/internal/httpkit"
	"refinery/internal/metrics"
	"refinery/internal/pkg/middleware"
)

type Deps struct {
	Handlers *handlers.Handler
	Metrics  *metrics.Collector

	AllowedOrigins []string
	// RequestTimeout bounds every request except object streaming.
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	h := d.Handlers
	log := h.Log()
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "ETag"},
		MaxAgeSeconds:  600,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "route not found", map[string]any{"path": r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	// ---- OPS ----
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// ---- PIPELINE ----
	r.Group(func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}
		r.Post("/convert", wrap(h.Convert))
		r.Post("/uploads", wrap(h.PostUpload))
		r.Post("/jobs", wrap(h.PostJob))
	})

	// ---- OBJECTS ----
	r.Get("/objects/{bucket}/*", wrap(h.GetObject))
	r.Head("/objects/{bucket}/*", wrap(h.GetObject))

	return r
}
