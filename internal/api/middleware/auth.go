// Package middleware provides the gin middleware of the delivery API:
// request logging, prometheus metrics, security headers, CORS and the
// bearer token check guarding certificate upload.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PrincipalKey is the gin context key holding the authenticated *auth.Principal
const PrincipalKey = "principal"

// TokenValidator validates a raw bearer token
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthMiddleware requires a bearer token accepted by validator
func AuthMiddleware(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		principal, err := validator.Validate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			logger.Debug("Upload token rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
			if errors.Is(err, auth.ErrMissingRole) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the principal set by AuthMiddleware, or nil
func PrincipalFrom(c *gin.Context) *auth.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*auth.Principal)
	return principal
}
