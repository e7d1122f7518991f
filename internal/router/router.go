package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akshaypn/healthup/internal/handlers"
	"github.com/akshaypn/healthup/internal/middleware"
)

type Options struct {
	FrontendURL string
	// SyncRatePerMin bounds sync and refresh calls per user.
	SyncRatePerMin int
}

func New(
	jwtAuth *middleware.JWTAuth,
	wearableHandler *handlers.WearableHandler,
	wsHandler http.HandlerFunc,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cache-Write"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))

	syncRate := opts.SyncRatePerMin
	if syncRate <= 0 {
		syncRate = 10
	}
	syncLimiter := middleware.NewUserRateLimiter(syncRate, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Wearable Routes ────
		r.Route("/wearable", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", wearableHandler.Status)
			r.Post("/connect", wearableHandler.Connect)
			r.Delete("/connect", wearableHandler.Disconnect)
			r.Get("/day", wearableHandler.GetDay)
			r.Get("/workouts", wearableHandler.Workouts)
			r.Get("/profile", wearableHandler.Profile)

			r.Group(func(r chi.Router) {
				r.Use(syncLimiter)
				r.Post("/refresh", wearableHandler.Refresh)
				r.Post("/sync", wearableHandler.Sync)
				r.Post("/sync/async", wearableHandler.SyncAsync)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHandler)
	})

	return r
}
