package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmchat/internal/authz"
	"dmchat/internal/blob"
	"dmchat/internal/httpx"
	obsmw "dmchat/internal/observability/middleware"
	"dmchat/internal/registry"
	"dmchat/internal/service"
)

// Deps carries everything the HTTP surface needs. Accounts may run without a
// token issuer, in which case LocalLogin should be false and signup/login are
// not mounted.
type Deps struct {
	Verifier   authz.Verifier
	Router     *service.Router
	Aggregator *service.Aggregator
	Accounts   *service.Accounts
	Registry   *registry.Registry
	Blobs      blob.Store
	Uploads    http.Handler
	Log        *slog.Logger

	LocalLogin         bool
	CORSOrigins        []string
	RateLimitPerMinute int
	MaxUploadBytes     int64
	WS                 WSConfig
}

type Handler struct {
	verifier authz.Verifier
	router   *service.Router
	agg      *service.Aggregator
	accounts *service.Accounts
	registry *registry.Registry
	blobs    blob.Store
	log      *slog.Logger

	maxUpload int64
	ws        WSConfig
	upgrader  upgrader
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = blob.DefaultMaxBytes
	}
	d.WS = d.WS.withDefaults()

	h := &Handler{
		verifier:  d.Verifier,
		router:    d.Router,
		agg:       d.Aggregator,
		accounts:  d.Accounts,
		registry:  d.Registry,
		blobs:     d.Blobs,
		log:       d.Log,
		maxUpload: d.MaxUploadBytes,
		ws:        d.WS,
		upgrader:  newUpgrader(d.CORSOrigins),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(httpx.LogRequests(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithMetrics)
	if d.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
	}
	r.Use(cors.Handler(corsOptions(d.CORSOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.handleWS)
	if d.Uploads != nil {
		r.Handle("/uploads/*", d.Uploads)
	}

	r.Route("/api", func(r chi.Router) {
		if d.LocalLogin {
			r.Post("/auth/signup", h.signup)
			r.Post("/auth/login", h.login)
		}

		r.Group(func(r chi.Router) {
			r.Use(authz.Middleware(d.Verifier))

			r.Post("/auth/logout", h.logout)

			r.Get("/users", h.listUsers)
			r.Get("/users/me", h.me)
			r.Get("/users/{id}", h.userProfile)
			r.Put("/users/profile", h.updateProfile)
			r.Delete("/users/profile", h.deleteAccount)

			r.Get("/chat/search", h.searchUsers)
			r.Get("/chat/chats", h.listConversations)
			r.Get("/chat/messages/{peerId}", h.history)
			r.Post("/chat/messages/{peerId}", h.send)
			r.Post("/chat/upload", h.upload)
		})
	})

	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", obsmw.HeaderRequestID, obsmw.HeaderTraceID},
		ExposedHeaders:   []string{obsmw.HeaderRequestID, obsmw.HeaderTraceID},
		AllowCredentials: !allowsAnyOrigin(origins),
		MaxAge:           300,
	}
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
