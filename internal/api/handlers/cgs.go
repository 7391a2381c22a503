package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api/middleware"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CGSHello is returned by GET on the upload API root
const CGSHello = "Hello from CH Covidcertificate Delivery CGS WS"

// UploadAPI encrypts and attaches certificates to open transfers
type UploadAPI interface {
	UploadCertificate(ctx context.Context, code, hcert, pdf string) error
}

// CGSHandler handles certificate upload by the certificate generation service
type CGSHandler struct {
	upload UploadAPI
	logger *zap.Logger
}

// NewCGSHandler creates a new upload handler
func NewCGSHandler(upload UploadAPI, logger *zap.Logger) *CGSHandler {
	return &CGSHandler{
		upload: upload,
		logger: logger,
	}
}

// UploadRequest carries a certificate in clear text
type UploadRequest struct {
	Code  string `json:"code" binding:"required"`
	Hcert string `json:"hcert" binding:"required"`
	Pdf   string `json:"pdf" binding:"required"`
}

// Hello answers the upload API root
func (h *CGSHandler) Hello(c *gin.Context) {
	c.String(http.StatusOK, CGSHello)
}

// Upload encrypts a certificate to the transfer's key and stores it
// @Summary Upload covid certificate
// @Accept json
// @Param request body UploadRequest true "Certificate upload"
// @Success 200
// @Failure 418 {string} string "code not found"
// @Router /cgs/delivery/v1/covidcert [post]
func (h *CGSHandler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	code := security.SanitizeCode(req.Code)

	var uploader string
	if principal := middleware.PrincipalFrom(c); principal != nil {
		uploader = principal.Subject
	}
	logger := h.logger.With(zap.String("code", code), zap.String("uploader", uploader))

	err := h.upload.UploadCertificate(c.Request.Context(), code, req.Hcert, req.Pdf)
	switch {
	case err == nil:
		logger.Info("Covid cert uploaded")
		c.Status(http.StatusOK)
	case errors.Is(err, security.ErrCodeNotFound):
		// the generation service treats 418 as "ask the user for a new code"
		logger.Info("Upload for unknown code")
		c.String(http.StatusTeapot, "code not found")
	default:
		abortWithError(c, logger, "Failed to upload covid cert", err)
	}
}
