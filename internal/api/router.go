package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/senpai-platform/senpai/internal/database"
	mw "github.com/senpai-platform/senpai/internal/middleware"
	inats "github.com/senpai-platform/senpai/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc

	// Chat gateway
	SendChat          http.HandlerFunc
	GetChatSession    http.HandlerFunc
	DeleteChatSession http.HandlerFunc

	// Quota status
	RateLimitStatus http.HandlerFunc

	// Token request workflow
	SubmitTokenRequest       http.HandlerFunc
	CanRequestTokens         http.HandlerFunc
	ListMyTokenRequests      http.HandlerFunc
	ListPendingTokenRequests http.HandlerFunc
	ApproveTokenRequest      http.HandlerFunc
	RejectTokenRequest       http.HandlerFunc

	// Conversations
	CreateConversation        http.HandlerFunc
	ListConversations         http.HandlerFunc
	GetConversation           http.HandlerFunc
	DeleteConversation        http.HandlerFunc
	AppendConversationMessage http.HandlerFunc
	SetMessageFeedback        http.HandlerFunc

	// Admin
	ListUsers      http.HandlerFunc
	UpdateUserRole http.HandlerFunc
	BanUser        http.HandlerFunc
	UnbanUser      http.HandlerFunc
	ResetUserQuota http.HandlerFunc
	AdminStats     http.HandlerFunc
	ListAuditLogs  http.HandlerFunc

	// Middleware
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, redisClient *redis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB, Redis, NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public) — rate-limited per IP
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Chat gateway
			r.Post("/chat", h.SendChat)
			r.Route("/chat/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetChatSession)
				r.Delete("/", h.DeleteChatSession)
			})

			// Quota status
			r.Get("/rate-limit-status/{userID}", h.RateLimitStatus)

			// Token request workflow
			r.Route("/token-requests", func(r chi.Router) {
				r.Post("/", h.SubmitTokenRequest)
				r.Get("/", h.ListMyTokenRequests)
				r.Get("/can-request", h.CanRequestTokens)
			})

			// Conversations
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", h.CreateConversation)
				r.Get("/", h.ListConversations)

				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/", h.GetConversation)
					r.Delete("/", h.DeleteConversation)
					r.Post("/messages", h.AppendConversationMessage)
				})
			})
			r.Post("/messages/{messageID}/feedback", h.SetMessageFeedback)

			// Admin surface
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)

				r.Get("/users", h.ListUsers)
				r.Put("/users/{userID}/role", h.UpdateUserRole)
				r.Post("/users/{userID}/ban", h.BanUser)
				r.Post("/users/{userID}/unban", h.UnbanUser)
				r.Post("/users/{userID}/reset-quota", h.ResetUserQuota)

				r.Route("/token-requests", func(r chi.Router) {
					r.Get("/", h.ListPendingTokenRequests)
					r.Post("/{requestID}/approve", h.ApproveTokenRequest)
					r.Post("/{requestID}/reject", h.RejectTokenRequest)
				})

				r.Get("/stats", h.AdminStats)
				r.Get("/audit", h.ListAuditLogs)
			})
		})
	})

	return r
}
