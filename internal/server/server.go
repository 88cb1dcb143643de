package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark8pips/licensing/internal/email"
	"github.com/mark8pips/licensing/internal/handler"
	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/middleware"
	"github.com/mark8pips/licensing/internal/store"
	"github.com/mark8pips/licensing/internal/stripe"
)

type Config struct {
	Stripe              stripe.Config
	BaseURL             string
	AdminEmail          string
	AdminPasswordHash   []byte
	JWTSecret           []byte
	CryptoWebhookSecret []byte
	AdminNotifyEmail    string
	SecureFilesPath     string
	EmailClient         *email.Client
}

type Server struct {
	db            *sql.DB
	engine        *lifecycle.Engine
	userStore     *store.UserStore
	licenseStore  *store.LicenseStore
	orderStore    *store.OrderStore
	productStore  *store.ProductStore
	downloadStore *store.DownloadStore
	activityStore *store.ActivityStore
	settingsStore *store.SettingsStore

	registerH *handler.RegisterHandler
	validateH *handler.ValidateHandler
	authH     *handler.AuthHandler
	adminH    *handler.AdminHandler
	licenseH  *handler.LicenseHandler
	productH  *handler.ProductHandler
	orderH    *handler.OrderHandler
	settingsH *handler.SettingsHandler
	downloadH *handler.DownloadHandler
	checkoutH *handler.CheckoutHandler
	webhookH  *handler.WebhookHandler

	stripeClient *stripe.Client
	emailClient  *email.Client
	rateLimiter  *middleware.RateLimiter
	jwtSecret    []byte
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	licenseStore := store.NewLicenseStore(db)
	orderStore := store.NewOrderStore(db)
	productStore := store.NewProductStore(db)
	downloadStore := store.NewDownloadStore(db)
	activityStore := store.NewActivityStore(db)
	settingsStore := store.NewSettingsStore(db)

	engine := lifecycle.New(userStore, licenseStore, orderStore, activityStore,
		logger.With("component", "lifecycle"))

	var stripeClient *stripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = stripe.NewClient(cfg.Stripe)
	}

	var checkoutH *handler.CheckoutHandler
	if stripeClient != nil {
		checkoutH = handler.NewCheckoutHandler(stripeClient, orderStore, productStore, logger.With("component", "checkout"))
	}
	// The webhook handler also covers crypto payments, which work without
	// Stripe configuration; the Stripe route itself is gated in Router.
	webhookH := handler.NewWebhookHandler(engine, stripeClient, orderStore, downloadStore,
		cfg.EmailClient, cfg.CryptoWebhookSecret, logger.With("component", "webhook"))

	return &Server{
		db:            db,
		engine:        engine,
		userStore:     userStore,
		licenseStore:  licenseStore,
		orderStore:    orderStore,
		productStore:  productStore,
		downloadStore: downloadStore,
		activityStore: activityStore,
		settingsStore: settingsStore,

		registerH: handler.NewRegisterHandler(engine, logger.With("component", "register")),
		validateH: handler.NewValidateHandler(engine, logger.With("component", "validate")),
		authH:     handler.NewAuthHandler(cfg.AdminEmail, cfg.AdminPasswordHash, cfg.JWTSecret, logger.With("component", "auth")),
		adminH:    handler.NewAdminHandler(engine, userStore, orderStore, logger.With("component", "admin")),
		licenseH:  handler.NewLicenseHandler(engine, licenseStore, userStore, logger.With("component", "license")),
		productH:  handler.NewProductHandler(productStore, activityStore, logger.With("component", "product")),
		orderH:    handler.NewOrderHandler(engine, orderStore, productStore, cfg.EmailClient, cfg.AdminNotifyEmail, logger.With("component", "order")),
		settingsH: handler.NewSettingsHandler(settingsStore, activityStore, logger.With("component", "settings")),
		downloadH: handler.NewDownloadHandler(downloadStore, cfg.SecureFilesPath, logger.With("component", "download")),
		checkoutH: checkoutH,
		webhookH:  webhookH,

		stripeClient: stripeClient,
		emailClient:  cfg.EmailClient,
		rateLimiter:  middleware.NewRateLimiter(),
		jwtSecret:    cfg.JWTSecret,
		logger:       logger,
	}
}

// DownloadStore returns the download store for maintenance tasks.
func (s *Server) DownloadStore() *store.DownloadStore {
	return s.downloadStore
}

// RateLimiter returns the rate limiter for maintenance tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// SendExpiryWarnings emails paid users whose subscription ends within the
// next three days. Warned users are marked so repeated maintenance runs do
// not resend.
func (s *Server) SendExpiryWarnings(now time.Time) {
	if s.emailClient == nil || !s.emailClient.Configured() {
		return
	}
	const window = 3 * 24 * time.Hour
	users, err := s.userStore.ListExpiring(now, window)
	if err != nil {
		s.logger.Error("list expiring users", "error", err)
		return
	}
	for _, u := range users {
		daysLeft := lifecycle.DaysRemaining(now, u.ExpiresAt)
		if err := s.emailClient.SendExpiryWarning(*u.Email, daysLeft, u.ExpiresAt); err != nil {
			s.logger.Error("send expiry warning", "user", u.ID, "error", err)
			continue
		}
		if err := s.userStore.MarkExpiryWarned(u.ID, now); err != nil {
			s.logger.Error("mark expiry warned", "user", u.ID, "error", err)
		}
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// EA endpoints (public, rate-limited per IP)
	mux.Handle("POST /api/auto-register", s.rateLimited(s.registerH.AutoRegister, 30))
	mux.Handle("POST /api/validate-license", s.rateLimited(s.validateH.Validate, 30))

	// Website endpoints
	mux.HandleFunc("GET /api/public/products", s.productH.ListActive)
	mux.HandleFunc("GET /api/public/website-settings", s.settingsH.Public)
	mux.Handle("POST /api/public/orders", s.rateLimited(s.orderH.Create, 10))

	// Payments
	if s.checkoutH != nil {
		mux.Handle("POST /api/payments/stripe/checkout", s.rateLimited(s.checkoutH.CreateSession, 10))
	}
	if s.stripeClient != nil {
		mux.HandleFunc("POST /api/webhooks/stripe", s.webhookH.HandleStripe)
	}
	mux.HandleFunc("POST /api/webhooks/crypto", s.webhookH.HandleCrypto)

	// Downloads
	mux.HandleFunc("GET /download/{token}", s.downloadH.Serve)

	// Admin auth
	mux.Handle("POST /api/auth/login", s.rateLimited(s.authH.Login, 5))

	// Admin surface (bearer token)
	authMw := middleware.RequireAdmin(s.jwtSecret)
	admin := func(h http.HandlerFunc) http.Handler { return authMw(h) }

	mux.Handle("GET /api/admin/dashboard", admin(s.adminH.Dashboard))
	mux.Handle("POST /api/admin/dashboard", admin(s.adminH.DashboardAction))
	mux.Handle("GET /api/admin/licenses/{key}", admin(s.licenseH.Get))
	mux.Handle("POST /api/admin/licenses", admin(s.licenseH.Create))
	mux.Handle("POST /api/admin/licenses/{key}/extend", admin(s.licenseH.Extend))
	mux.Handle("POST /api/admin/licenses/{key}/revoke", admin(s.licenseH.Revoke))
	mux.Handle("GET /api/admin/products", admin(s.productH.List))
	mux.Handle("POST /api/admin/products", admin(s.productH.Create))
	mux.Handle("PUT /api/admin/products/{id}/active", admin(s.productH.SetActive))
	mux.Handle("DELETE /api/admin/products/{id}", admin(s.productH.Delete))
	mux.Handle("GET /api/admin/orders", admin(s.orderH.List))
	mux.Handle("GET /api/admin/settings", admin(s.settingsH.Get))
	mux.Handle("PUT /api/admin/settings", admin(s.settingsH.Update))

	var h http.Handler = mux
	h = middleware.CORS(h)
	h = middleware.RequestLogger(s.logger)(h)
	return h
}

func (s *Server) rateLimited(h http.HandlerFunc, perMinute int) http.Handler {
	return middleware.RateLimit(s.rateLimiter, perMinute, time.Minute)(h)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
