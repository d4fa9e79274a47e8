package router

import (
	"net/http"
	"strconv"

	"bridge-relayer/internal/config"
	"bridge-relayer/internal/handlers"
	"bridge-relayer/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const corsMaxAge = 3600

// Dependencies handlers mounted by SetupRouter. WebSocket may be nil.
type Dependencies struct {
	Config    *config.Config
	Relay     *handlers.RelayHandler
	AdminAuth *handlers.AdminAuthHandler
	WebSocket *handlers.WebSocketHandler
	Logger    *logrus.Entry
}

// corsMiddleware allows server.corsAllowedOrigins (empty = *)
func corsMiddleware(allowedOrigins []string, logger *logrus.Entry) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		case origin != "":
			logger.WithFields(logrus.Fields{
				"request_origin": origin,
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
			}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the status API.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(corsMiddleware(deps.Config.Server.CORSAllowedOrigins, deps.Logger))

	// ============ Health & metrics ============
	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", handlers.HealthCheckHandler)
		api.GET("/status", deps.Relay.GetStatusHandler)
		api.GET("/intents", deps.Relay.ListIntentsHandler)
		api.GET("/intents/:id", deps.Relay.GetIntentHandler)
	}

	// ============ Admin ============
	localhostOnly := middleware.NewLocalhostOnly(deps.Logger, deps.Config.Admin.AllowedIPs)
	adminAuth := middleware.NewAdminAuthMiddleware([]byte(deps.Config.Admin.JWTSecret), deps.Logger)

	admin := api.Group("/admin", localhostOnly.Restrict())
	{
		admin.POST("/login", deps.AdminAuth.AdminLoginHandler)

		protected := admin.Group("", adminAuth.RequireAdminAuth())
		protected.POST("/intents/:id/requeue", deps.Relay.RequeueIntentHandler)
	}

	// ============ WebSocket ============
	if deps.WebSocket != nil {
		r.GET("/ws/transitions", deps.WebSocket.HandleTransitions)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Not found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
			"code":    "NOT_FOUND",
		})
	})

	return r
}
