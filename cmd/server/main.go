package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusloop/campusloop/internal/config"
	"github.com/campusloop/campusloop/internal/database"
	"github.com/campusloop/campusloop/internal/handlers"
	"github.com/campusloop/campusloop/internal/logging"
	"github.com/campusloop/campusloop/internal/middleware"
	"github.com/campusloop/campusloop/internal/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	// Initialize logger
	logger := logging.New()
	if level, ok := os.LookupEnv("LOG_LEVEL"); ok {
		logger.SetLevel(logging.ParseLevel(level))
		logging.SetDefaultLevel(logging.ParseLevel(level))
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("Starting CampusLoop server...")

	// Connect to PostgreSQL
	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgres(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	// Connect to Redis
	logger.Info("Connecting to Redis", map[string]interface{}{
		"addr": cfg.Redis.Addr(),
	})
	redisDB, err := database.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	// Initialize services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	cache := services.NewRedisCache(redisDB.Client)
	feed := services.NewRedisFeed(redisDB.Client)

	userService := services.NewUserService(dbAdapter)
	authService := services.NewAuthService(dbAdapter, redisDB.Client)
	emailService := services.NewEmailService(&cfg.Email)
	verificationService := services.NewVerificationService(dbAdapter, userService, emailService, cfg.Email.BaseURL)
	notificationService := services.NewNotificationService(dbAdapter, emailService, feed)
	mentorshipService := services.NewMentorshipService(dbAdapter, notificationService, feed)
	directoryService := services.NewDirectoryService(dbAdapter, cache, feed)
	connectionService := services.NewConnectionService(dbAdapter, notificationService, feed)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisDB)
	authHandler := handlers.NewAuthHandler(userService, authService, verificationService, cfg.Server.Secure)
	mentorshipHandler := handlers.NewMentorshipHandler(mentorshipService)
	directoryHandler := handlers.NewDirectoryHandler(directoryService)
	connectionHandler := handlers.NewConnectionHandler(connectionService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(authService)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Server.Secure)
	requestLogger := middleware.NewRequestLogger(logger)
	authRateLimiter := middleware.NewAuthRateLimiter(redisDB.Client)
	apiRateLimiter := middleware.NewAPIRateLimiter(redisDB.Client)

	requireAuth := authMiddleware.RequireAuth

	// Set up router
	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Auth endpoints
	mux.Handle("POST /api/auth/register", authRateLimiter.Middleware(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/auth/login", authRateLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/logout", http.HandlerFunc(authHandler.Logout))
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /api/auth/verify-email", authRateLimiter.Middleware(http.HandlerFunc(authHandler.VerifyEmail)))
	mux.Handle("POST /api/auth/resend-verification", requireAuth(http.HandlerFunc(authHandler.ResendVerification)))

	// Mentor directory endpoints
	mux.Handle("GET /api/mentors", requireAuth(http.HandlerFunc(directoryHandler.List)))
	mux.Handle("GET /api/mentors/{id}", requireAuth(http.HandlerFunc(directoryHandler.Get)))
	mux.Handle("PUT /api/mentors/offer", requireAuth(http.HandlerFunc(directoryHandler.UpsertOffer)))
	mux.Handle("DELETE /api/mentors/offer", requireAuth(http.HandlerFunc(directoryHandler.WithdrawOffer)))

	// Mentorship lifecycle endpoints
	mux.Handle("POST /api/mentorships", requireAuth(http.HandlerFunc(mentorshipHandler.Create)))
	mux.Handle("GET /api/mentorships", requireAuth(http.HandlerFunc(mentorshipHandler.List)))
	mux.Handle("GET /api/mentorships/{id}", requireAuth(http.HandlerFunc(mentorshipHandler.Get)))
	mux.Handle("PUT /api/mentorships/{id}/accept", requireAuth(http.HandlerFunc(mentorshipHandler.Accept)))
	mux.Handle("PUT /api/mentorships/{id}/reject", requireAuth(http.HandlerFunc(mentorshipHandler.Reject)))
	mux.Handle("PUT /api/mentorships/{id}/cancel", requireAuth(http.HandlerFunc(mentorshipHandler.Cancel)))
	mux.Handle("PUT /api/mentorships/{id}/complete", requireAuth(http.HandlerFunc(mentorshipHandler.Complete)))
	mux.Handle("POST /api/mentorships/{id}/feedback", requireAuth(http.HandlerFunc(mentorshipHandler.SubmitFeedback)))

	// Connection endpoints
	mux.Handle("POST /api/connections", requireAuth(http.HandlerFunc(connectionHandler.Send)))
	mux.Handle("GET /api/connections", requireAuth(http.HandlerFunc(connectionHandler.List)))
	mux.Handle("PUT /api/connections/{id}/accept", requireAuth(http.HandlerFunc(connectionHandler.Accept)))
	mux.Handle("PUT /api/connections/{id}/decline", requireAuth(http.HandlerFunc(connectionHandler.Decline)))
	mux.Handle("DELETE /api/connections/{id}", requireAuth(http.HandlerFunc(connectionHandler.Withdraw)))

	// Notification endpoints
	mux.Handle("GET /api/notifications", requireAuth(http.HandlerFunc(notificationHandler.List)))
	mux.Handle("GET /api/notifications/unread", requireAuth(http.HandlerFunc(notificationHandler.UnreadCount)))
	mux.Handle("PUT /api/notifications/{id}/read", requireAuth(http.HandlerFunc(notificationHandler.MarkRead)))
	mux.Handle("PUT /api/notifications/read-all", requireAuth(http.HandlerFunc(notificationHandler.MarkAllRead)))

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = authMiddleware.Authenticate(handler)
	handler = apiRateLimiter.Middleware(handler)
	handler = securityHeaders.Apply(handler)
	handler = requestLogger.Apply(handler)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background workers: cache invalidation off the change feed, and the
	// pending-request expiry sweep.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	invalidator := services.NewInvalidator(redisDB.Client)
	go invalidator.Run(workerCtx)

	go runSweep(workerCtx, mentorshipService, cfg.Sweep.Interval, logger)

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")
		stopWorkers()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{
		"addr": addr,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

// runSweep expires stale pending mentorship requests on a fixed interval. An
// immediate pass runs at startup so a long-stopped server catches up right
// away.
func runSweep(ctx context.Context, mentorshipService *services.MentorshipService, interval time.Duration, logger *logging.Logger) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		count, err := mentorshipService.AutoExpireSweep(sweepCtx, time.Now())
		if err != nil {
			logger.Error("Mentorship expiry sweep failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if count > 0 {
			logger.Info("Mentorship expiry sweep completed", map[string]interface{}{"expired": count})
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
