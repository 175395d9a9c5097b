package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/littledevelop/student-teacher-appointment-backend/api/swagger"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/handler"
	internalmiddleware "github.com/littledevelop/student-teacher-appointment-backend/internal/middleware"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/repository"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/service"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/cache"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/config"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/database"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/jobs"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/logger"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/mail"
	corsmiddleware "github.com/littledevelop/student-teacher-appointment-backend/pkg/middleware/cors"
	reqidmiddleware "github.com/littledevelop/student-teacher-appointment-backend/pkg/middleware/requestid"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/ratelimit"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/storage"
)

// @title Student Teacher Appointment API
// @version 1.0.0
// @description Booking, availability and messaging between students and teachers
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "appointments")
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.DefaultTTL, logr, cfg.Cache.Enabled)

	var objectStore storage.ObjectStore
	if cfg.Storage.Enabled {
		minioStore, err := storage.NewMinioStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		objectStore = minioStore
	}

	mailQueue := jobs.NewQueue("mail", jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: cfg.Mail.MaxRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnResult:   metrics.RecordJobResult,
	})
	notifications := service.NewNotificationService(nil, logr)
	if cfg.Mail.Enabled {
		mailQueue.Handle(service.MailJobType, service.MailHandler(mail.NewSMTPSender(cfg.Mail)))
		mailQueue.Start(ctx)
		defer mailQueue.Stop()
		notifications = service.NewNotificationService(mailQueue, logr)
	}

	authLimiter, apiLimiter, err := buildLimiters(ctx, cfg.RateLimit, redisClient)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	authSvc := service.NewAuthService(userRepo, storage.NewTokenSigner(cfg.PasswordReset.Secret, cfg.PasswordReset.TTL), notifications, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "student-teacher-appointment-backend",
		ResetBaseURL:       cfg.PasswordReset.BaseURL,
	})
	userSvc := service.NewUserService(userRepo, cacheSvc, objectStore, notifications, metrics, validate, logr, service.UserServiceConfig{
		AvatarURLTTL:   cfg.Storage.URLTTL,
		MaxAvatarBytes: cfg.Storage.MaxFileBytes,
	})
	appointmentSvc := service.NewAppointmentService(appointmentRepo, userRepo, notifications, metrics, validate, logr)
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, cacheSvc, metrics, validate, logr)
	messageSvc := service.NewMessageService(messageRepo, userRepo, appointmentRepo, metrics, validate, logr)

	checks := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(internalmiddleware.Metrics(metrics))
		r.GET("/metrics", metricsHandler.Prometheus)
	}

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:         handler.NewAuthHandler(authSvc),
		Users:        handler.NewUserHandler(userSvc),
		Appointments: handler.NewAppointmentHandler(appointmentSvc),
		Availability: handler.NewAvailabilityHandler(availabilitySvc),
		Messages:     handler.NewMessageHandler(messageSvc),
		Metrics:      metricsHandler,
		Tokens:       authSvc,
		Audit:        userRepo,
		AuthLimiter:  authLimiter,
		APILimiter:   apiLimiter,
		Logger:       logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildLimiters returns the credential and general API limiters. Credential
// endpoints get a fifth of the general budget. Both are shared across
// instances when Redis is available.
func buildLimiters(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if !cfg.Enabled || cfg.Requests <= 0 {
		return nil, nil, nil
	}
	authBudget := cfg.Requests / 5
	if authBudget < 1 {
		authBudget = 1
	}

	if client != nil {
		authLimiter, err := ratelimit.NewFixedWindow(client, "ratelimit", authBudget, cfg.Window)
		if err != nil {
			return nil, nil, err
		}
		apiLimiter, err := ratelimit.NewFixedWindow(client, "ratelimit", cfg.Requests, cfg.Window)
		if err != nil {
			return nil, nil, err
		}
		return authLimiter, apiLimiter, nil
	}

	authLimiter, err := ratelimit.NewLocal(authBudget, cfg.Window)
	if err != nil {
		return nil, nil, err
	}
	apiLimiter, err := ratelimit.NewLocal(cfg.Requests, cfg.Window)
	if err != nil {
		return nil, nil, err
	}
	go authLimiter.Sweep(ctx, cfg.Window)
	go apiLimiter.Sweep(ctx, cfg.Window)
	return authLimiter, apiLimiter, nil
}
