// Package server contains HTTP and WebSocket handlers for the posts API.
package server

import (
	"context"
	"log/slog"
	"time"

	"postservice/internal/cache"
	"postservice/internal/config"
	"postservice/internal/middleware"
	"postservice/internal/models"
	"postservice/internal/notifications"
	"postservice/internal/repository"
	"postservice/internal/service"
	"postservice/internal/store"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Create is limited per client IP when rate limiting is enabled.
const (
	createPostLimit  = 30
	createPostWindow = time.Minute
)

// StoreHealth reports on the document store connection.
type StoreHealth interface {
	HealthCheck(ctx context.Context) error
	State() store.State
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          StoreHealth
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	postService    *service.PostService
	limiter        *middleware.RateLimiter
	notifier       *notifications.Notifier
	feedHub        *notifications.FeedHub
}

// NewServer creates a server backed by the store handle.
func NewServer(cfg *config.Config, handle *store.Handle, redisClient *redis.Client) *Server {
	return NewServerWithDeps(cfg, repository.NewPostRepository(handle), handle, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer owns the store.
func NewServerWithDeps(
	cfg *config.Config,
	postRepo repository.PostRepository,
	health StoreHealth,
	redisClient *redis.Client,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		config:         cfg,
		store:          health,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("posts-api"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		limiter:        middleware.NewRateLimiter(redisClient, cfg.Env),
	}

	// Notifier and feed hub only exist when Redis is available.
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
		server.feedHub = notifications.NewFeedHub()
	}

	var events service.EventPublisher
	if server.notifier != nil {
		events = server.notifier
	}
	server.postService = service.NewPostService(
		postRepo,
		cache.New(redisClient, cfg.CacheTTL),
		events,
		cfg.FeedLimit,
	)

	return server
}

// App builds the Fiber app on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName: "Posts API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate request and trace IDs
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		MaxAge:       86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Live feed of post events
	if s.feedHub != nil {
		app.Get("/ws/feed", s.WebSocketFeedHandler())
	}

	posts := app.Group("/posts")
	posts.Get("/", s.GetPosts)
	// Specific /:authorId/:postId/like route before generic /:authorId
	posts.Patch("/:authorId/:postId/like", s.LikePost)
	posts.Get("/:authorId", s.GetAuthorPosts)
	posts.Post("/:authorId",
		s.limiter.Limit("create_post", createPostLimit, createPostWindow, middleware.FailOpen),
		s.CreatePost)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports ready only while the store answers a ping.
// Redis is optional; its status is reported but does not fail readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		storeStatus = "unhealthy"
		middleware.Logger.WarnContext(ctx, "store health check failed", slog.String("error", err.Error()))
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"store":       storeStatus,
			"store_state": s.store.State().String(),
			"redis":       redisStatus,
		},
		"time": time.Now(),
	})
}

// Start wires the feed hub and starts listening. It blocks until the listener stops.
func (s *Server) Start() error {
	app := s.App()

	if s.feedHub != nil {
		if err := s.feedHub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			middleware.Logger.Error("failed to start feed wiring", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server. The store handle is owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop the feed subscriber
	s.shutdownFn()

	// Close WebSocket connections gracefully
	if s.feedHub != nil {
		if err := s.feedHub.Shutdown(ctx); err != nil {
			middleware.Logger.Error("error shutting down feed hub", slog.String("error", err.Error()))
		}
	}

	var shutdownErr error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
			shutdownErr = err
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return shutdownErr
}
