//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/senpai-platform/senpai/internal/admin"
	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/audit"
	"github.com/senpai-platform/senpai/internal/auth"
	"github.com/senpai-platform/senpai/internal/chat"
	"github.com/senpai-platform/senpai/internal/config"
	"github.com/senpai-platform/senpai/internal/conversations"
	"github.com/senpai-platform/senpai/internal/llm"
	"github.com/senpai-platform/senpai/internal/quota"
	"github.com/senpai-platform/senpai/internal/session"
	"github.com/senpai-platform/senpai/internal/tokenrequests"
	"github.com/senpai-platform/senpai/internal/users"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	AuthSvc     *auth.Service
	UserSvc     *users.Service
	QuotaSvc    *quota.Service
	Ledger      quota.Ledger
}

var testEnv *TestEnv

// stubModelServer mimics the upstream chat-completions API with a fixed
// reply and usage so quota math is deterministic.
func stubModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Cowboy Bebop. See you, space cowboy."}},
			},
			"usage": map[string]int{
				"prompt_tokens":     40,
				"completion_tokens": 10,
				"total_tokens":      50,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "senpai_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/senpai_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Services
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", "test-refresh-secret-32-chars-long!!", 15*time.Minute, 7*24*time.Hour)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	ledger := quota.NewPostgresLedger(pool)
	quotaSvc := quota.NewService(ledger, quota.DefaultPolicy())
	quotaHandler := quota.NewHandler(quotaSvc, userSvc)

	modelSrv := stubModelServer(t)
	model := llm.NewClient(config.LLMConfig{
		BaseURL:           modelSrv.URL,
		APIKey:            "test",
		Model:             "gpt-4o-mini",
		MaxResponseTokens: 300,
		Temperature:       0.8,
		Timeout:           5 * time.Second,
	})

	convRepo := conversations.NewPostgresRepository(pool)
	convSvc := conversations.NewService(convRepo)
	convHandler := conversations.NewHandler(convSvc)

	cache := session.NewRedisCache(redisClient, 24*time.Hour)
	chatSvc := chat.NewService(quotaSvc, cache, model, nil, 5)
	chatHandler := chat.NewHandler(chatSvc, convSvc)

	requestRepo := tokenrequests.NewPostgresRepository(pool)
	requestSvc := tokenrequests.NewService(requestRepo, quotaSvc, nil)
	requestHandler := tokenrequests.NewHandler(requestSvc)

	auditRepo := audit.NewRepository(pool)
	adminHandler := admin.NewHandler(userSvc, quotaSvc, convSvc, auditRepo, nil)

	router := api.NewRouter(pool, redisClient, nil, api.RouterConfig{
		CORSAllowedOrigins: []string{"*"},
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

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		AuthSvc:     authSvc,
		UserSvc:     userSvc,
		QuotaSvc:    quotaSvc,
		Ledger:      ledger,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func RegisterUser(t *testing.T, env *TestEnv, email, password string) map[string]any {
	t.Helper()
	body := map[string]string{"email": email, "name": "Test User", "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/register", body, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: status %d", resp.StatusCode)
	}
	return ParseResponse(t, resp)
}

func LoginUser(t *testing.T, env *TestEnv, email, password string) string {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/login", body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	return data["access_token"].(string)
}

// PromoteToAdmin flips the role directly in the database; the new role
// lands in the token on the next login.
func PromoteToAdmin(t *testing.T, env *TestEnv, email string) {
	t.Helper()
	_, err := env.Pool.Exec(context.Background(),
		`UPDATE users SET role = 'admin' WHERE email = $1`, email)
	if err != nil {
		t.Fatalf("promoting user: %v", err)
	}
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
