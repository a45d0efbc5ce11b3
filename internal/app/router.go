package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	postinghttp "github.com/meridian-books/meridian/internal/accounting/posting/http"
	"github.com/meridian-books/meridian/internal/observability"
	reconhttp "github.com/meridian-books/meridian/internal/reconciliation/http"
)

// RouterConfig carries handler dependencies.
type RouterConfig struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	Journals       *postinghttp.Handler
	Reconciliation *reconhttp.Handler
}

// NewRouter assembles the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: cfg.Logger, Config: cfg.Config, Metrics: cfg.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Journals != nil {
			cfg.Journals.MountRoutes(r)
		}
		if cfg.Reconciliation != nil {
			cfg.Reconciliation.MountRoutes(r)
		}
	})

	return r
}
