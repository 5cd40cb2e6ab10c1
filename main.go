package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/config"
	"github.com/HSouheill/coursemarket_backend/controllers"
	"github.com/HSouheill/coursemarket_backend/middleware"
	"github.com/HSouheill/coursemarket_backend/repositories"
	"github.com/HSouheill/coursemarket_backend/routes"
	"github.com/HSouheill/coursemarket_backend/services"
	"github.com/HSouheill/coursemarket_backend/utils"
	"github.com/HSouheill/coursemarket_backend/websocket"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := config.NewLogger("info", "console")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Warn().Msg(".env file not found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true

	// Initialize custom validator
	customValidator := &CustomValidator{validator: validator.New()}
	_ = customValidator.validator.RegisterValidation("signupemail", services.ValidateSignupEmail)
	e.Validator = customValidator

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Cleanup(ctx, time.Hour)

	// Middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.NewCORSConfig(cfg.CORSOrigins)))
	e.Use(echoMiddleware.Secure())
	e.Use(rateLimiter.RateLimit())
	e.Use(middleware.SecurityHeadersWithConfig(middleware.SecurityConfig{
		AllowedDomains: cfg.CORSOrigins,
		AllowInlineJS:  cfg.Development(),
		HSTS:           !cfg.Development(),
	}))
	if !cfg.Development() {
		e.Use(httpsRedirect())
	}

	health := map[string]string{"status": "healthy", "backend": "disabled"}

	var channel services.VerificationChannel
	if cfg.BackendEnabled {
		backend, cleanup, err := startBackend(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer cleanup()

		routes.RegisterVerificationRoutes(e, controllers.NewVerificationController(backend.svc, logger))
		routes.RegisterAccountRoutes(e, controllers.NewAccountController(backend.accounts, logger), []byte(cfg.JWTSecret))
		channel = services.NewLocalChannel(backend.svc)
		health["backend"] = "connected"
	}
	if cfg.VerificationAPIURL != "" {
		channel = services.NewHTTPChannel(cfg.VerificationAPIURL, logger)
		logger.Info().Str("url", cfg.VerificationAPIURL).Msg("using remote verification backend")
	}
	if channel == nil {
		return errors.New("no verification backend: set VERIFICATION_API_URL or enable the bundled backend")
	}

	sealer, err := utils.NewSealer(cfg.DraftKey)
	if err != nil {
		return err
	}
	if cfg.DraftKey == nil {
		logger.Info().Msg("no DRAFT_ENCRYPTION_KEY set, drafts are sealed with a per-process key")
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sessions := services.NewSessionManager(services.SessionManagerDeps{
		Channel: channel,
		Sealer:  sealer,
		Events:  hub,
		Policy:  cfg.Policy,
		Logger:  logger,
		Metrics: metrics,
	})
	go sessions.Run(ctx, time.Minute)
	defer sessions.Shutdown()

	signupController := controllers.NewSignupController(sessions, websocket.NewHandler(hub, cfg.CORSOrigins), logger)
	routes.RegisterSignupRoutes(e, signupController, !cfg.Development())

	e.Match([]string{http.MethodGet, http.MethodHead}, "/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "OK",
			"message": "Course marketplace signup service is running",
			"version": "1.0",
		})
	})
	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, health)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
		errCh <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type backend struct {
	svc      *services.VerificationService
	accounts *repositories.AccountRepository
}

// startBackend connects the stores behind the bundled verification backend.
func startBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *services.Metrics) (*backend, func(), error) {
	redisClient, err := config.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	mongoClient, err := config.ConnectDB(ctx, cfg.MongoURI, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	db := mongoClient.Database(cfg.DBName)
	if err := config.SetupCollections(ctx, db, logger); err != nil {
		_ = redisClient.Close()
		_ = mongoClient.Disconnect(context.Background())
		return nil, nil, err
	}

	var sender services.CodeSender
	switch {
	case cfg.SMTP.Configured():
		sender = services.NewSMTPCodeSender(cfg.SMTP)
	case cfg.Development():
		logger.Warn().Msg("SMTP is not configured, verification codes are printed to stdout")
		sender = services.ConsoleCodeSender{Out: os.Stdout}
	default:
		_ = redisClient.Close()
		_ = mongoClient.Disconnect(context.Background())
		return nil, nil, errors.New("SMTP_USER, SMTP_PASS and FROM_EMAIL are required outside development")
	}

	accounts := repositories.NewAccountRepository(db.Collection(config.AccountsCollection))
	svc := services.NewVerificationService(services.VerificationServiceDeps{
		Codes:    repositories.NewVerificationRepository(redisClient, repositories.DefaultCodeRetention),
		Accounts: accounts,
		Sender:   sender,
		Tokens:   middleware.NewJWTIssuer([]byte(cfg.JWTSecret)),
		Policy:   cfg.Policy,
		Logger:   logger,
		Metrics:  metrics,
	})

	cleanup := func() {
		_ = redisClient.Close()
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}
	return &backend{svc: svc, accounts: accounts}, cleanup, nil
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(http.StatusMovedPermanently, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}
