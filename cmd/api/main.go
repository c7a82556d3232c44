package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/senpai-platform/senpai/internal/admin"
	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/audit"
	"github.com/senpai-platform/senpai/internal/auth"
	"github.com/senpai-platform/senpai/internal/chat"
	"github.com/senpai-platform/senpai/internal/config"
	"github.com/senpai-platform/senpai/internal/conversations"
	"github.com/senpai-platform/senpai/internal/database"
	"github.com/senpai-platform/senpai/internal/llm"
	"github.com/senpai-platform/senpai/internal/middleware"
	inats "github.com/senpai-platform/senpai/internal/nats"
	"github.com/senpai-platform/senpai/internal/quota"
	iredis "github.com/senpai-platform/senpai/internal/redis"
	"github.com/senpai-platform/senpai/internal/server"
	"github.com/senpai-platform/senpai/internal/session"
	"github.com/senpai-platform/senpai/internal/tokenrequests"
	"github.com/senpai-platform/senpai/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional; audit events are skipped when disabled)
	var natsClient *inats.Client
	var publisher *inats.Publisher
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
	} else {
		slog.Warn("NATS disabled, audit events will not be published")
	}

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	// Quota enforcement
	ledger := quota.NewPostgresLedger(pool)
	quotaSvc := quota.NewService(ledger, quota.NewPolicy(cfg.Limits))
	quotaHandler := quota.NewHandler(quotaSvc, userSvc)

	// Conversations
	convRepo := conversations.NewPostgresRepository(pool)
	convSvc := conversations.NewService(convRepo)
	convHandler := conversations.NewHandler(convSvc)

	// Chat gateway
	cache := session.NewRedisCache(redisClient, cfg.Session.TTL)
	model := llm.NewClient(cfg.LLM)
	chatSvc := chat.NewService(quotaSvc, cache, model, publisher, cfg.Session.HistoryTurns)
	chatHandler := chat.NewHandler(chatSvc, convSvc)

	// Token request workflow
	requestRepo := tokenrequests.NewPostgresRepository(pool)
	requestSvc := tokenrequests.NewService(requestRepo, quotaSvc, publisher)
	requestHandler := tokenrequests.NewHandler(requestSvc)

	// Admin
	auditRepo := audit.NewRepository(pool)
	adminHandler := admin.NewHandler(userSvc, quotaSvc, convSvc, auditRepo, publisher)

	// Audit consumer persists events published by the services above.
	if natsClient != nil {
		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	authLimiter := middleware.NewRateLimiter(redisClient, cfg.Limits.AuthMaxAttempts, cfg.Limits.AuthWindowSec)

	// Router
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		AuthRateLimiter:    authLimiter.Middleware,
	}, api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,

		SendChat:          chatHandler.Send,
		GetChatSession:    chatHandler.GetSession,
		DeleteChatSession: chatHandler.DeleteSession,

		RateLimitStatus: quotaHandler.GetStatus,

		SubmitTokenRequest:       requestHandler.Submit,
		CanRequestTokens:         requestHandler.CanRequest,
		ListMyTokenRequests:      requestHandler.ListMine,
		ListPendingTokenRequests: requestHandler.ListPending,
		ApproveTokenRequest:      requestHandler.Approve,
		RejectTokenRequest:       requestHandler.Reject,

		CreateConversation:        convHandler.Create,
		ListConversations:         convHandler.List,
		GetConversation:           convHandler.Get,
		DeleteConversation:        convHandler.Delete,
		AppendConversationMessage: convHandler.AppendMessage,
		SetMessageFeedback:        convHandler.SetFeedback,

		ListUsers:      adminHandler.ListUsers,
		UpdateUserRole: adminHandler.UpdateRole,
		BanUser:        adminHandler.Ban,
		UnbanUser:      adminHandler.Unban,
		ResetUserQuota: adminHandler.ResetQuota,
		AdminStats:     adminHandler.Stats,
		ListAuditLogs:  adminHandler.ListAudit,

		AuthMiddleware:  auth.Middleware(authSvc),
		AdminMiddleware: auth.RequireAdmin,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
