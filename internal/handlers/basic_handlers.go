package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler GET /health, GET /api/health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "bridge-relayer",
	})
}

// respondWithError unified error response
func respondWithError(c *gin.Context, statusCode int, code, errorType, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
		"code":    code,
	})
}
