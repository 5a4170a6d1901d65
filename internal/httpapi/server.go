package httpapi

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelbench/internal/artifact"
	"modelbench/internal/generation"
	"modelbench/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	EnsureArtifact(ctx context.Context, token string, onProgress artifact.ProgressFunc) (string, error)
	RemoveArtifact() (bool, error)
	Submit(ctx context.Context, prompt string, cfg generation.SamplingConfig) (<-chan generation.Event, error)
	Cancel() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(inflightMiddleware)

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Get("/presets", func(w http.ResponseWriter, r *http.Request) {
			_, named := samplingDefaults()
			names := make([]string, 0, len(named))
			for n := range named {
				names = append(names, n)
			}
			sort.Strings(names)
			resp := types.PresetsResponse{Presets: make([]generation.Preset, 0, len(names))}
			for _, n := range names {
				resp.Presets = append(resp.Presets, named[n])
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Route("/artifact", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, svc.Status().Artifact)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				removed, err := svc.RemoveArtifact()
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, types.RemoveResponse{Removed: removed})
			})
			r.Post("/download", downloadHandler(svc))
		})

		r.Post("/generate", generateHandler(svc))
		r.Post("/generate/cancel", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, types.CancelResponse{Cancelled: svc.Cancel()})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(svc.Status().State))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
