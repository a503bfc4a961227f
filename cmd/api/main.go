package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	_ "github.com/lib/pq"

	"github.com/bazarhub/server/internal/auth"
	"github.com/bazarhub/server/internal/config"
	"github.com/bazarhub/server/internal/db"
	httphandler "github.com/bazarhub/server/internal/http"
	"github.com/bazarhub/server/internal/http/handlers"
	"github.com/bazarhub/server/internal/reaper"
	"github.com/bazarhub/server/internal/repo"
)

func main() {
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	accountRepo := repo.NewAccountRepo(database)
	bindingRepo := repo.NewBindingRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	sessionRepo := repo.NewSessionRepo(database)

	// SMS dispatch: the real gateway lives outside this service; dev mode
	// logs codes instead.
	var sender auth.SMSSender = auth.LogSMSSender{}

	// Initialize auth services
	otpStore := auth.NewOtpStore(otpRepo, sender, cfg.OTPSalt)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	resolver := auth.NewResolver(accountRepo, bindingRepo)
	sessionIssuer := auth.NewSessionIssuer(sessionRepo, jwtService, cfg.RefreshTokenTTL)

	phoneVerifier := auth.NewPhoneVerifier(otpStore)
	passwordVerifier := auth.NewPasswordVerifier(bindingRepo)

	var telegramVerifier *auth.TelegramVerifier
	if cfg.TelegramBotToken != "" {
		telegramVerifier = auth.NewTelegramVerifier(cfg.TelegramBotToken)
	}
	var googleVerifier *auth.GoogleVerifier
	if cfg.GoogleClientID != "" {
		googleVerifier = auth.NewGoogleVerifier(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	authService := auth.NewService(otpStore, resolver, sessionIssuer,
		phoneVerifier, telegramVerifier, googleVerifier, passwordVerifier)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, accountRepo, cfg.DevMode)

	// Create router
	router := httphandler.NewRouter(authHandler, jwtService)

	// Background reaper for expired challenges and dead sessions
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.New(otpRepo, sessionRepo).Run(reaperCtx)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopReaper()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
