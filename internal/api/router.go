// Package api wires together all HTTP routes for the data API.
//
// Route grouping:
//   - /api-key/* is unauthenticated: it is how callers obtain a credential in
//     the first place.
//   - /api/public/* sits behind the access gate: a valid API key (or, where
//     configured, an admin session) plus the per-key rate windows.
//   - /health and /version are open operational endpoints.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/JamieBuffing/kumasi-data-api/internal/api/keys"
	"github.com/JamieBuffing/kumasi-data-api/internal/api/public"
	"github.com/JamieBuffing/kumasi-data-api/internal/auth"
	"github.com/JamieBuffing/kumasi-data-api/internal/config"
	"github.com/JamieBuffing/kumasi-data-api/internal/credentials"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
	"github.com/JamieBuffing/kumasi-data-api/internal/jobs"
	"github.com/JamieBuffing/kumasi-data-api/internal/middleware"
	"github.com/JamieBuffing/kumasi-data-api/internal/notify"
	"github.com/JamieBuffing/kumasi-data-api/internal/ratelimit"
	"github.com/JamieBuffing/kumasi-data-api/internal/safego"
	"github.com/JamieBuffing/kumasi-data-api/internal/verification"
)

// BackgroundServices holds background jobs that must be stopped during
// graceful shutdown, after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	sweeper *jobs.InactivitySweeper
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router with all dependencies
// injected by the caller.
func NewRouter(cfg *config.Config, db *sql.DB, redisClient *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	sqlxDB := sqlx.NewDb(db, "postgres")
	credRepo := repositories.NewCredentialRepository(sqlxDB)
	pointRepo := repositories.NewMeasurementRepository(sqlxDB)

	pending := verification.NewPendingStore(redisClient)
	notifier := notify.NewFromConfig(&cfg.Notifications)
	lifecycle := credentials.NewService(credRepo, pending, notifier, cfg.Credentials.ChallengeValidity)

	sessions := auth.NewSessionVerifier(cfg.Security.SessionSecret)
	gate := middleware.NewGate(credRepo, sessions, notifier, ratelimit.Limits{
		PerMinute: cfg.Credentials.MinuteLimit,
		PerDay:    cfg.Credentials.DayLimit,
	}, cfg.Credentials.InactivityThreshold())

	keysHandler := keys.NewHandler(lifecycle,
		int(cfg.Credentials.ChallengeValidity.Seconds()), cfg.Security.TLS.Enabled)
	dataHandler := public.NewHandler(pointRepo)

	sweeper := jobs.NewInactivitySweeper(credRepo, notifier, &cfg.Credentials)
	safego.Go("inactivity-sweeper", func() { sweeper.Start(context.Background()) })

	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORS(cfg.Security.CORS.AllowedOrigins))
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware())

	router.GET("/health", healthCheckHandler(db, redisClient))
	router.GET("/version", versionHandler())

	router.POST("/api-key/request", keysHandler.Request)
	router.POST("/api-key/verify", keysHandler.Verify)

	gated := router.Group("/api/public")
	gated.Use(gate.Handler(middleware.KeyOrSession))
	gated.GET("/data", dataHandler.Data)

	return router, &BackgroundServices{sweeper: sweeper}
}

// healthCheckHandler returns the health status of the service, probing both
// backing stores.
func healthCheckHandler(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"checks": checks,
			})
			return
		}
		checks["database"] = "healthy"

		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"checks": checks,
			})
			return
		}
		checks["redis"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Version is set at build time via -ldflags.
var Version = "dev"

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": Version})
	}
}

// LoggerMiddleware logs one structured record per request. The global slog
// handler decides between text and JSON output.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
