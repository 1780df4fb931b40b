package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pixforge/pixforge/internal/account"
	"github.com/pixforge/pixforge/internal/apierrors"
	"github.com/pixforge/pixforge/internal/cache"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/pixforge/pixforge/internal/credential"
	"github.com/pixforge/pixforge/internal/database"
	"github.com/pixforge/pixforge/internal/generation"
	"github.com/pixforge/pixforge/internal/logging"
	"github.com/pixforge/pixforge/internal/middleware"
	"github.com/pixforge/pixforge/internal/monitoring"
	"github.com/pixforge/pixforge/internal/quota"
)

// APIServer represents the main API server
type APIServer struct {
	config        *config.Config
	router        *gin.Engine
	db            *database.DB
	redis         *cache.Redis
	accounts      *account.Service
	credentials   *credential.Service
	ledger        *quota.Ledger
	generations   *generation.Service
	authenticator *middleware.Authenticator
	rateLimiter   *RateLimiter
}

// NewAPIServer creates a new API server instance. redis may be nil, in
// which case per-subject rate limiting is disabled.
func NewAPIServer(
	cfg *config.Config,
	db *database.DB,
	redis *cache.Redis,
	accounts *account.Service,
	credentials *credential.Service,
	ledger *quota.Ledger,
	generations *generation.Service,
) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:        cfg,
		router:        router,
		db:            db,
		redis:         redis,
		accounts:      accounts,
		credentials:   credentials,
		ledger:        ledger,
		generations:   generations,
		authenticator: middleware.NewAuthenticator(&cfg.JWT),
	}
	if redis != nil {
		srv.rateLimiter = NewRateLimiter(redis, &cfg.RateLimit)
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 routes (all protected)
	v1 := s.router.Group("/api/v1")
	v1.Use(s.authenticator.Auth())
	{
		me := v1.Group("/me")
		{
			me.POST("/sync", s.handleSync)
			me.GET("", s.handleGetMe)
			me.PUT("/credential", s.handleStoreCredential)
			me.DELETE("/credential", s.handleClearCredential)
			me.DELETE("", s.handleDeleteAccount)
		}

		images := v1.Group("/images")
		images.Use(s.rateLimit())
		{
			images.POST("/generate", s.handleGenerate)
			images.POST("/edit", s.handleEdit)
			images.POST("/segment", s.handleSegment)
			images.GET("", s.handleListRecords)
			images.GET("/:id", s.handleGetRecord)
			images.DELETE("/:id", s.handleDeleteRecord)
		}
	}
}

// healthCheck reports the health of the server and its dependencies
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "healthy"
	checks := gin.H{}

	if err := s.db.Health(ctx); err != nil {
		status = "degraded"
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Health(ctx); err != nil {
			status = "degraded"
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "api",
		"checks":  checks,
	})
}

// rateLimit throttles request bursts per subject. A missing limiter or a
// Redis failure never blocks the request.
func (s *APIServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}

		subject := middleware.GetSubject(c)
		result, err := s.rateLimiter.Check(c.Request.Context(), subject)
		if err != nil || result.Allowed {
			c.Next()
			return
		}

		monitoring.Get().RateLimitHits.Inc()
		retryAfter := int(result.RetryAfter.Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respondError(c, apierrors.ErrRateLimitedError)
		c.Abort()
	}
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(err, middleware.GetRequestID(c)))
}
