package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/internal/middleware"
	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/relay"
	"github.com/acadex/acadex-client/pkg/jwt"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/tracing"
)

// devrelay is a development stand-in for the platform's real-time relay.
// It speaks the same wire contract the client SDK negotiates against:
// capability probe, websocket transport and long-polling fallback.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.DevRelay.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required to run the dev relay")
		os.Exit(1)
	}

	err = logger.Initialize(logger.Config{
		Level:       cfg.Logging.Level,
		LogDir:      cfg.Logging.Dir,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Acadex dev relay",
		zap.String("environment", cfg.AppEnv),
		zap.String("port", cfg.DevRelay.Port))

	tracerShutdown, err := tracing.InitTracer(
		"acadex-devrelay",
		cfg.Observability.ServiceNamespace,
		cfg.Observability.ServiceVersion,
		cfg.Observability.ServiceInstanceID,
		cfg.AppEnv,
		cfg.Observability.CollectorEndpoint,
	)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracerShutdown(ctx); shutdownErr != nil {
			logger.Error("Failed to shutdown tracer", zap.Error(shutdownErr))
		}
	}()

	tokens := jwt.NewTokenManager(cfg.DevRelay.JWTSecret, cfg.DevRelay.JWTIssuer, cfg.DevRelay.SessionTTL)

	hub := relay.NewHub()
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go hub.ReapIdle(reaperCtx, 30*time.Second, 2*cfg.Realtime.PollWait+30*time.Second)

	handlers := relay.NewHandlers(hub, tokens, cfg.Realtime.PollWait, cfg.DevRelay.AllowedOrigins)

	gin.SetMode(cfg.DevRelay.GinMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("acadex-devrelay"))
	router.Use(middleware.ObservabilityMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	allowedOrigins := cfg.DevRelay.AllowedOrigins
	if cfg.IsDevelopment() {
		allowedOrigins = append(allowedOrigins, "http://localhost:3000", "http://127.0.0.1:3000")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "traceparent", "tracestate"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	generalRateLimiter := middleware.NewRateLimiter(100, 200)
	tokenRateLimiter := middleware.NewRateLimiter(5, 10)
	defer generalRateLimiter.Stop()
	defer tokenRateLimiter.Stop()

	router.GET("/healthcheck", generalRateLimiter.Middleware(), handlers.Health)
	router.GET("/metrics", generalRateLimiter.Middleware(), gin.WrapH(promhttp.Handler()))

	rt := router.Group("/realtime")
	rt.GET("/info", generalRateLimiter.Middleware(), handlers.Info)
	rt.GET("/ws", handlers.Websocket)
	rt.POST("/poll", generalRateLimiter.Middleware(), handlers.PollOpen)
	rt.GET("/poll/:id/events", handlers.PollEvents)
	rt.POST("/poll/:id/emit", generalRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(64*1024), handlers.PollEmit)

	router.POST("/auth/token", tokenRateLimiter.Middleware(), middleware.BodySizeLimitMiddleware(8*1024), handlers.MintToken)

	admin := router.Group("/admin")
	admin.Use(
		generalRateLimiter.Middleware(),
		middleware.BearerAuthMiddleware(tokens),
		middleware.RequireRoles(models.RoleSuperAdmin, models.RoleSchoolAdmin, models.RoleAdmin),
	)
	admin.POST("/force-logout", middleware.BodySizeLimitMiddleware(8*1024), handlers.ForceLogout)
	admin.GET("/online", handlers.Online)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.DevRelay.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// no ReadTimeout/WriteTimeout: long-poll holds and websocket
		// connections outlive any sane request deadline
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Dev relay listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Dev relay failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down dev relay...")
	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Dev relay forced to shutdown", zap.Error(err))
	}

	logger.Info("Dev relay exited")
}
