package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/diagnosis/qr-attendance/internal/admin"
	"github.com/diagnosis/qr-attendance/internal/http/handlers"
	"github.com/diagnosis/qr-attendance/internal/http/middleware"
	"github.com/diagnosis/qr-attendance/internal/identity"
	"github.com/diagnosis/qr-attendance/internal/ledger"
	"github.com/diagnosis/qr-attendance/internal/registration"
	"github.com/diagnosis/qr-attendance/internal/repo/postgres"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/cache"
	"github.com/diagnosis/qr-attendance/pkg/config"
	"github.com/diagnosis/qr-attendance/pkg/database"
	"github.com/diagnosis/qr-attendance/pkg/events"
	"github.com/diagnosis/qr-attendance/pkg/logger"
	mw "github.com/diagnosis/qr-attendance/pkg/middleware"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	ctx := context.Background()

	reg, err := sites.FromJSON(cfg.Attendance.TimeZone, cfg.Attendance.SitesJSON)
	if err != nil {
		logger.Error("Failed to load site registry", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	eventBus, err := events.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	usersRepo := postgres.NewUsersRepo(pool)
	attendanceRepo := postgres.NewAttendanceRepo(pool, cfg.Database.QueryTimeout)
	rateLimitRepo := postgres.NewRateLimitRepo(pool)
	idempotencyRepo := postgres.NewIdempotencyRepo(pool)

	var idem mw.IdempotencyStore = idempotencyRepo
	redisStore, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to postgres idempotency store", "error", err)
	} else if redisStore != nil {
		idem = redisStore
		defer redisStore.Close()
	}

	// Services
	resolver := identity.NewResolver(usersRepo)
	led := ledger.New(reg, attendanceRepo, resolver, eventBus, ledger.WithMaxPositionAge(cfg.Attendance.MaxPositionAge))
	registrar := registration.NewService(usersRepo, eventBus)
	adminSvc := admin.NewService(attendanceRepo, usersRepo, reg, eventBus)
	kakao := identity.NewKakao(cfg.Kakao.ClientID, cfg.Kakao.ClientSecret, cfg.Kakao.RedirectURL)

	// Handlers
	scanH := handlers.NewScanHandler(led)
	sitesH := handlers.NewSitesHandler(reg)
	regH := handlers.NewRegistrationHandler(registrar)
	authH := handlers.NewAuthHandler(kakao, registrar, handlers.AuthConfig{
		JWTSecret:         cfg.Auth.JWTSecret,
		SessionTTL:        cfg.Auth.SessionTTL,
		AdminSessionTTL:   cfg.Auth.AdminSessionTTL,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
	})
	adminH := handlers.NewAdminHandler(adminSvc, reg, cfg.Attendance.PublicBaseURL)

	scanLimiter := middleware.NewRateLimiter(rateLimitRepo, middleware.RateLimitConfig{
		Requests: cfg.Attendance.ScanRateLimit,
		Window:   cfg.Attendance.ScanRateWindow,
	})
	requireSession := middleware.RequireSession(cfg.Auth.JWTSecret)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("attendance"))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Attendance.PublicBaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health(pool))

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/sites", sitesH.Routes())
		r.Mount("/auth", authH.Routes())
		r.Mount("/", regH.Routes())

		r.Route("/scan", func(r chi.Router) {
			r.Use(scanLimiter.Middleware())
			r.Use(requireSession)
			r.Use(mw.Idempotency(idem, cfg.Redis.IdempotencyTTL))
			r.Mount("/", scanH.Routes())
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(scanLimiter.Middleware()).Post("/login", authH.AdminLogin)
			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Use(middleware.RequireAdmin)
				r.Mount("/", adminH.Routes())
			})
		})
	})

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go cleanupExpired(cleanupCtx, rateLimitRepo, idempotencyRepo)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down attendance service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Attendance service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting attendance service", "port", cfg.Server.Port, "sites", reg.IDs())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Attendance service error", "error", err)
		os.Exit(1)
	}
}

type expirer interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

func cleanupExpired(ctx context.Context, repos ...expirer) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, repo := range repos {
				n, err := repo.CleanupExpired(ctx)
				if err != nil {
					logger.Error("cleanup of expired rows failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Debug("expired rows removed", "count", n)
				}
			}
		}
	}
}
