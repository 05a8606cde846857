package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/conversation"
	"parley/internal/database"
	"parley/internal/hub"
	"parley/internal/mail"
	"parley/internal/router"
	"parley/internal/websocket"
	pkgdatabase "parley/pkg/database"
)

// maintenanceInterval paces rate-limit and memory-cache cleanup
const maintenanceInterval = time.Minute

// Application coordinates all system components
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	dbManager     *database.Manager
	cache         cache.Cache
	memoryCache   *cache.MemoryCache
	queueMailer   *mail.QueueMailer
	mailWorker    *mail.Worker
	registry      *websocket.Registry
	messageRouter *router.Router
	messageHub    *hub.Hub
	conversations *conversation.Manager
	httpServer    *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLogger builds the process logger: development output when debug is on,
// JSON otherwise, at the configured level.
func NewLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg != nil && cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if cfg != nil && cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	return zapConfig.Build()
}

// NewApplication creates a new application instance with all components initialized.
// Initialization order: Database → Cache → Mail → Auth → Registry → Hub →
// Router → Conversations → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	application := &Application{config: cfg, logger: logger}
	if err := application.initialize(); err != nil {
		application.closeResources()
		return nil, err
	}
	return application, nil
}

func (app *Application) initialize() error {
	cfg := app.config
	logger := app.logger

	dbConfig := &pkgdatabase.Config{
		Driver:          cfg.Database.Driver,
		DatabasePath:    cfg.Database.Path,
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database manager: %w", err)
	}
	app.dbManager = dbManager

	migrations := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		return fmt.Errorf("database schema invalid after migration: %w", err)
	}
	logger.Info("database migrations applied", zap.String("driver", dbConfig.Driver))

	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCacheFromURL(context.Background(), cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.cache = redisCache
	} else {
		app.memoryCache = cache.NewMemoryCache()
		app.cache = app.memoryCache
		logger.Info("redis not configured, using in-memory cache")
	}

	mailer, err := app.buildMailer()
	if err != nil {
		return err
	}

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.TokenTTLs{
		Access:        cfg.Auth.AccessTokenTTL,
		Refresh:       cfg.Auth.RefreshTokenTTL,
		PasswordReset: cfg.Auth.ResetTokenTTL,
	})
	authService := auth.NewService(dbManager, authenticator, app.cache, mailer, logger)

	app.registry = websocket.NewRegistry()
	app.messageHub = hub.NewHub(app.registry, logger)
	app.messageRouter = router.NewRouter(dbManager, app.messageHub, router.Options{
		RateLimitPerMinute: cfg.WebSocket.RateLimitPerMinute,
		PersistTimeout:     cfg.WebSocket.PersistTimeout,
		RequirePersist:     cfg.WebSocket.RequirePersist,
	}, logger)

	app.conversations = conversation.NewManager(dbManager, app.messageHub, logger)
	if err := app.conversations.RefreshCache(context.Background()); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	apiServer := api.NewServer(api.Dependencies{
		Auth:          authService,
		Conversations: app.conversations,
		Users:         dbManager,
		Database:      dbManager,
		Cache:         app.cache,
		Registry:      app.registry,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Logger:        logger,
	})

	wsHandler := websocket.NewHandler(app.registry, app.messageRouter, authService, app.conversations, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		OverflowPolicy: cfg.WebSocket.OverflowPolicy,
		RequireAuth:    cfg.WebSocket.RequireAuth,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/{conversationId}", wsHandler.HandleWebSocket)

	// gorilla clears these deadlines on upgrade, so they only bound REST calls.
	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return nil
}

// buildMailer sends inline through SMTP, or through the asynq queue when
// Redis is configured so slow SMTP servers never block a request.
func (app *Application) buildMailer() (mail.Mailer, error) {
	cfg := app.config
	sender := mail.NewSMTPSender(mail.Config{
		Host:          cfg.Mail.SMTPServer,
		Port:          cfg.Mail.SMTPPort,
		Username:      cfg.Mail.Username,
		Password:      cfg.Mail.Password,
		UseTLS:        cfg.Mail.UseTLS,
		From:          cfg.Mail.From,
		FromName:      cfg.Mail.FromName,
		FrontendURL:   cfg.Mail.FrontendURL,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
	}, app.logger)

	if cfg.Redis.URL == "" || cfg.Mail.SMTPServer == "" {
		return sender, nil
	}

	queueMailer, err := mail.NewQueueMailer(cfg.Redis.URL, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail queue: %w", err)
	}
	app.queueMailer = queueMailer

	worker, err := mail.NewWorker(cfg.Redis.URL, sender, 2, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail worker: %w", err)
	}
	app.mailWorker = worker
	return queueMailer, nil
}

// Start binds the listener, starts background components and serves HTTP.
// It returns once the server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		listener.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	if app.mailWorker != nil {
		if err := app.mailWorker.Start(); err != nil {
			cancel()
			app.messageHub.Stop()
			listener.Close()
			return fmt.Errorf("failed to start mail worker: %w", err)
		}
	}

	app.wg.Add(2)
	go app.maintain(runCtx)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if err := ctx.Err(); err != nil {
		app.Stop(context.Background())
		return err
	}

	app.logger.Info("application started", zap.String("addr", app.GetAddr()))
	return nil
}

func (app *Application) maintain(ctx context.Context) {
	defer app.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limits := app.messageRouter.CleanupRateLimits()
			swept := 0
			if app.memoryCache != nil {
				swept = app.memoryCache.Sweep()
			}
			if limits > 0 || swept > 0 {
				app.logger.Debug("maintenance", zap.Int("rate_limit_keys", limits), zap.Int("cache_entries", swept))
			}
		}
	}
}

// Stop gracefully shuts down the application.
// Order: HTTP → Hub (closes live sockets) → mail → cache → database
func (app *Application) Stop(ctx context.Context) error {
	var shutdownErr error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down")

		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", zap.Error(err))
			shutdownErr = err
		}

		if app.cancel != nil {
			app.cancel()
		}
		if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			app.logger.Warn("message hub shutdown error", zap.Error(err))
		}
		app.wg.Wait()

		app.closeResources()
		app.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeResources releases whatever initialize managed to open
func (app *Application) closeResources() {
	if app.mailWorker != nil {
		app.mailWorker.Shutdown()
	}
	if app.queueMailer != nil {
		if err := app.queueMailer.Close(); err != nil {
			app.logger.Warn("mail queue close error", zap.Error(err))
		}
	}
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Warn("cache close error", zap.Error(err))
		}
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			app.logger.Warn("database close error", zap.Error(err))
		}
	}
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Registry exposes the live connection registry for diagnostics and tests
func (app *Application) Registry() *websocket.Registry {
	return app.registry
}
