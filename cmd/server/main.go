package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"toolgate/internal/api"
	"toolgate/internal/oauth"
	"toolgate/internal/session"
	"toolgate/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// One identity per replica; session ownership records carry it.
	replicaID := uuid.NewString()

	// Setup Redis when either backend needs it
	var redisClient *redis.Client
	if cfg.StorageMode == "redis" || cfg.SessionMode == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	// Setup shared store
	var sessionStorage storage.SessionStorage
	switch cfg.StorageMode {
	case "redis":
		sessionStorage = storage.NewRedisStorage(redisClient)
		slog.Info("Using Redis store", "addr", cfg.Redis.Addr)
	case "memory":
		sessionStorage = storage.NewMemoryStorage()
		slog.Warn("Using in-memory store (single replica only, not persistent)")
	default:
		slog.Error("Invalid STORAGE_MODE", "mode", cfg.StorageMode, "valid_modes", []string{"redis", "memory"})
		os.Exit(1)
	}

	// Setup session transport
	var sessionBroker session.Broker
	switch cfg.SessionMode {
	case "redis":
		sessionBroker = session.NewRedisBroker(redisClient, replicaID)
		slog.Info("Using Redis session transport", "replica_id", replicaID)
	case "local":
		sessionBroker = session.NewLocalBroker(replicaID)
		slog.Warn("Using local session transport (pushes from other replicas will not arrive)")
	default:
		slog.Error("Invalid SESSION_MODE", "mode", cfg.SessionMode, "valid_modes", []string{"redis", "local"})
		os.Exit(1)
	}

	// Setup credential archive
	var archive storage.CredentialStorage
	switch cfg.ArchiveMode {
	case "s3":
		s3Archive, err := storage.NewS3Storage(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL)
		if err != nil {
			slog.Error("Failed to create S3 archive", "error", err)
			os.Exit(1)
		}
		archive = s3Archive
		slog.Info("Using S3 credential archive", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	case "filesystem":
		fsArchive, err := storage.NewFilesystemStorage(cfg.DataPath)
		if err != nil {
			slog.Error("Failed to create filesystem archive", "error", err)
			os.Exit(1)
		}
		archive = fsArchive
		slog.Info("Using filesystem credential archive", "path", cfg.DataPath)
	case "none":
		// No archive configured.
	default:
		slog.Error("Invalid ARCHIVE_MODE", "mode", cfg.ArchiveMode, "valid_modes", []string{"none", "filesystem", "s3"})
		os.Exit(1)
	}

	// Setup downstream client registry
	clients, err := oauth.LoadClientRegistry(cfg.ClientsPath)
	if err != nil {
		slog.Error("Failed to load client registry", "path", cfg.ClientsPath, "error", err)
		os.Exit(1)
	}

	// Setup upstream provider and broker
	callbackURL := cfg.PublicBaseURL + "/oauth/callback"
	var provider oauth.UpstreamProvider
	switch cfg.Upstream.Mode {
	case "static":
		if archive == nil {
			slog.Error("Static upstream mode requires a credential archive", "archive_mode", cfg.ArchiveMode)
			os.Exit(1)
		}
		exists, err := archive.CredentialExists(context.Background(), cfg.Upstream.StaticAccount)
		if err != nil {
			slog.Error("Failed to check static credential bundle", "account", cfg.Upstream.StaticAccount, "error", err)
			os.Exit(1)
		}
		if !exists {
			slog.Warn("No credential bundle archived for static account yet", "account", cfg.Upstream.StaticAccount)
		}
		provider = oauth.NewStaticProvider(archive, cfg.Upstream.StaticAccount, callbackURL)
		slog.Info("Using static upstream credentials", "account", cfg.Upstream.StaticAccount)
	case "oauth2":
		provider = oauth.NewOAuth2Provider(
			cfg.Upstream.ClientID,
			cfg.Upstream.ClientSecret,
			cfg.Upstream.AuthURL,
			cfg.Upstream.TokenURL,
			callbackURL,
			cfg.Upstream.UserInfoURL,
			cfg.Upstream.Scopes,
		)
	default:
		slog.Error("Invalid UPSTREAM_MODE", "mode", cfg.Upstream.Mode, "valid_modes", []string{"oauth2", "static"})
		os.Exit(1)
	}
	if !provider.Configured() {
		slog.Warn("Upstream provider not configured; authorization flows will fail")
	}

	broker := oauth.NewBroker(sessionStorage, provider, clients, oauth.BrokerOptions{
		PendingTTL:      cfg.PendingTTL,
		ExchangeTTL:     cfg.ExchangeTTL,
		InstallationTTL: cfg.InstallationTTL,
		Archive:         archive,
	})

	storeCheck := func(ctx context.Context) error {
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	}
	apiServer := api.NewServer(broker, sessionBroker, storeCheck)

	// Setup routes
	mux := http.NewServeMux()

	// OAuth relay endpoints
	mux.HandleFunc("GET /authorize", apiServer.AuthorizeHandler)
	mux.HandleFunc("GET /oauth/callback", apiServer.CallbackHandler)
	mux.HandleFunc("POST /oauth/token", apiServer.TokenHandler)
	mux.HandleFunc("POST /oauth/revoke", apiServer.RevokeHandler)

	// Session transport endpoints (bearer-protected)
	mux.Handle("GET /events", apiServer.BearerMiddleware(http.HandlerFunc(apiServer.EventsHandler)))
	mux.Handle("POST /sessions/{sessionId}/push", apiServer.BearerMiddleware(http.HandlerFunc(apiServer.PushHandler)))
	mux.Handle("GET /sessions/{sessionId}", apiServer.BearerMiddleware(http.HandlerFunc(apiServer.SessionOwnerHandler)))

	mux.HandleFunc("GET /health", apiServer.HealthHandler)

	// Apply middleware
	handler := api.LoggingMiddleware(api.CORSMiddleware(mux))

	// Create HTTP server. No write timeout: /events streams until the
	// client hangs up.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("Toolgate starting on http://localhost:%s\n", cfg.Port)
	fmt.Println("OAuth endpoints:")
	fmt.Println("  GET  /authorize       - start authorization (redirect clients here)")
	fmt.Println("  GET  /oauth/callback  - upstream provider callback")
	fmt.Println("  POST /oauth/token     - code redemption / token rotation")
	fmt.Println("  POST /oauth/revoke    - token revocation")
	fmt.Println("Session endpoints:")
	fmt.Println("  GET  /events                      - SSE stream")
	fmt.Println("  POST /sessions/{sessionId}/push   - push a message to a session")
	fmt.Println("  GET  /health                      - health check")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Shut down on SIGINT/SIGTERM so live sessions get deregistered
	// instead of lingering until their registration TTL.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down", "replica_id", replicaID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
