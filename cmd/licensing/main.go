package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark8pips/licensing/internal/backup"
	"github.com/mark8pips/licensing/internal/database"
	"github.com/mark8pips/licensing/internal/email"
	"github.com/mark8pips/licensing/internal/logging"
	"github.com/mark8pips/licensing/internal/server"
	"github.com/mark8pips/licensing/internal/stripe"
)

func main() {
	logger := logging.Setup(os.Getenv("LICENSING_LOG_LEVEL"))

	port := os.Getenv("LICENSING_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("LICENSING_DB_PATH")
	if dbPath == "" {
		dbPath = "licensing.db"
	}

	baseURL := os.Getenv("LICENSING_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPasswordHash := os.Getenv("ADMIN_PASSWORD_HASH")
	jwtSecret := os.Getenv("JWT_SECRET")
	if adminEmail == "" || adminPasswordHash == "" || jwtSecret == "" {
		slog.Error("ADMIN_EMAIL, ADMIN_PASSWORD_HASH, and JWT_SECRET are required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	emailClient := email.NewClient(os.Getenv("SENDGRID_API_KEY"), os.Getenv("FROM_EMAIL"), baseURL)

	secureFiles := os.Getenv("SECURE_FILES_PATH")
	if secureFiles == "" {
		secureFiles = "secure_files"
	}

	cfg := server.Config{
		Stripe: stripe.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    baseURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     baseURL + "/pricing",
		},
		BaseURL:             baseURL,
		AdminEmail:          adminEmail,
		AdminPasswordHash:   []byte(adminPasswordHash),
		JWTSecret:           []byte(jwtSecret),
		CryptoWebhookSecret: []byte(os.Getenv("CRYPTO_WEBHOOK_SECRET")),
		AdminNotifyEmail:    os.Getenv("ADMIN_NOTIFY_EMAIL"),
		SecureFilesPath:     secureFiles,
		EmailClient:         emailClient,
	}

	srv := server.New(db, cfg, logger)

	backupMgr := backup.NewManager(backup.Config{
		Endpoint:   os.Getenv("BACKUP_S3_ENDPOINT"),
		Bucket:     os.Getenv("BACKUP_S3_BUCKET"),
		Region:     os.Getenv("BACKUP_S3_REGION"),
		AccessKey:  os.Getenv("BACKUP_S3_ACCESS_KEY"),
		SecretKey:  os.Getenv("BACKUP_S3_SECRET_KEY"),
		Passphrase: os.Getenv("BACKUP_PASSPHRASE"),
		Interval:   backupInterval(),
		Retention:  backupRetention(),
	}, db, logger.With("component", "backup"))

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background maintenance: purge expired download tokens and rate
	// limiter windows hourly, and warn users approaching expiry.
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.DownloadStore().DeleteExpired(time.Now()); err != nil {
					slog.Error("purge download tokens", "error", err)
				} else if n > 0 {
					slog.Info("purged expired download tokens", "count", n)
				}
				srv.RateLimiter().Cleanup()
				srv.SendExpiryWarnings(time.Now())
			case <-maintCtx.Done():
				return
			}
		}
	}()

	backupMgr.Start(maintCtx)

	go func() {
		slog.Info("licensing service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	maintCancel()
	backupMgr.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func backupInterval() time.Duration {
	hours, _ := strconv.Atoi(os.Getenv("BACKUP_INTERVAL_HOURS"))
	if hours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(hours) * time.Hour
}

func backupRetention() int {
	n, _ := strconv.Atoi(os.Getenv("BACKUP_RETENTION"))
	return n
}
