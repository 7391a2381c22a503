package middleware

import (
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware configures CORS based on configuration
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.Security.CORSEnabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return cors.New(cors.Config{
		AllowOrigins:  cfg.Security.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	})
}
