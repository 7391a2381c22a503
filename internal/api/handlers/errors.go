// Package handlers implements the HTTP endpoints of the delivery service:
// the signed app API, the certificate upload API used by the certificate
// generation service, and the health check.
package handlers

import (
	"errors"
	"net/http"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorResponse maps a domain error to its status and plain text body
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, security.ErrCodeAlreadyExists):
		return http.StatusConflict, "code already in use"
	case errors.Is(err, security.ErrPublicKeyAlreadyExists):
		return http.StatusConflict, "public key already in use"
	case errors.Is(err, security.ErrCodeNotFound):
		return http.StatusNotFound, "code not found"
	case errors.Is(err, security.ErrInvalidSignature),
		errors.Is(err, security.ErrInvalidSignaturePayload),
		errors.Is(err, security.ErrInvalidAction):
		// clients must not learn which check failed
		return http.StatusForbidden, "invalid signature"
	case errors.Is(err, security.ErrInvalidTimestamp):
		return http.StatusTooEarly, "I | TIME"
	case errors.Is(err, security.ErrInvalidPublicKey):
		return http.StatusBadRequest, "I | KEY"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// abortWithError writes the mapped response. Only unexpected errors are
// logged above debug.
func abortWithError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		_ = c.Error(err)
	} else {
		logger.Debug(msg, zap.String("kind", security.Kind(err)), zap.Error(err))
	}
	c.String(status, body)
	c.Abort()
}

// validCode sanitizes code and reports whether it is a well formed transfer code
func validCode(code string) (string, bool) {
	code = security.SanitizeCode(code)
	return code, crypto.IsValidCode(code)
}
