package handlers

import (
	"context"
	"net/http"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AppHello is returned by GET on the app API root
const AppHello = "Hello from CH Covidcertificate Delivery App WS"

// DeliveryAPI is the signed transfer protocol used by the app
type DeliveryAPI interface {
	Register(ctx context.Context, req *service.RegisterRequest) (*service.RegistrationResult, error)
	Fetch(ctx context.Context, req *service.SignedRequest) ([]*models.CovidCert, error)
	Complete(ctx context.Context, req *service.SignedRequest) error
}

// PushAPI manages heartbeat push registrations
type PushAPI interface {
	Upsert(ctx context.Context, pushToken string, pushType models.PushType, registerID string) error
}

// AppHandler handles the anonymous, signature authenticated app API
type AppHandler struct {
	delivery DeliveryAPI
	push     PushAPI
	logger   *zap.Logger
}

// NewAppHandler creates a new app handler
func NewAppHandler(delivery DeliveryAPI, push PushAPI, logger *zap.Logger) *AppHandler {
	return &AppHandler{
		delivery: delivery,
		push:     push,
		logger:   logger,
	}
}

// RegisterRequest opens a transfer
type RegisterRequest struct {
	Code             string `json:"code" binding:"required"`
	PublicKey        string `json:"publicKey" binding:"required"`
	Algorithm        string `json:"algorithm" binding:"required"`
	SignaturePayload string `json:"signaturePayload" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// SignedRequest acts on an existing transfer
type SignedRequest struct {
	Code             string `json:"code" binding:"required"`
	SignaturePayload string `json:"signaturePayload" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// CovidCert is one encrypted certificate in a fetch response
type CovidCert struct {
	EncryptedHcert string `json:"encryptedHcert"`
	EncryptedPdf   string `json:"encryptedPdf"`
}

// CovidCertList is the fetch response
type CovidCertList struct {
	CovidCerts []CovidCert `json:"covidCerts"`
}

// PushRegistrationRequest opts a device in or out of heartbeat pushes
type PushRegistrationRequest struct {
	PushToken  string `json:"pushToken"`
	PushType   string `json:"pushType" binding:"required"`
	RegisterID string `json:"registerId" binding:"required"`
}

// Hello answers the app API root
func (h *AppHandler) Hello(c *gin.Context) {
	c.String(http.StatusOK, AppHello)
}

// Register registers a transfer code with the app's public key
// @Summary Register transfer code
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Signed registration"
// @Success 200 {object} service.RegistrationResult
// @Router /app/delivery/v1/covidcert/register [post]
func (h *AppHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	code, ok := validCode(req.Code)
	if !ok {
		c.String(http.StatusBadRequest, "invalid code")
		return
	}
	alg, err := crypto.ParseAlgorithm(req.Algorithm)
	if err != nil {
		abortWithError(c, h.logger, "Unsupported algorithm", err)
		return
	}

	result, err := h.delivery.Register(c.Request.Context(), &service.RegisterRequest{
		Code:             code,
		PublicKey:        req.PublicKey,
		Algorithm:        alg,
		SignaturePayload: req.SignaturePayload,
		Signature:        req.Signature,
	})
	if err != nil {
		abortWithError(c, h.logger, "Failed to register transfer", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Fetch returns the encrypted certificate of a transfer, an empty list while
// it is not ready
// @Summary Fetch covid certificate
// @Accept json
// @Produce json
// @Param request body SignedRequest true "Signed fetch"
// @Success 200 {object} CovidCertList
// @Router /app/delivery/v1/covidcert [post]
func (h *AppHandler) Fetch(c *gin.Context) {
	req, ok := h.bindSigned(c)
	if !ok {
		return
	}

	certs, err := h.delivery.Fetch(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, h.logger, "Failed to fetch covid cert", err)
		return
	}

	resp := CovidCertList{CovidCerts: make([]CovidCert, 0, len(certs))}
	for _, cert := range certs {
		resp.CovidCerts = append(resp.CovidCerts, CovidCert{
			EncryptedHcert: cert.EncryptedHcert,
			EncryptedPdf:   cert.EncryptedPdf,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Complete closes a transfer after the app stored its certificate
// @Summary Complete transfer
// @Accept json
// @Param request body SignedRequest true "Signed completion"
// @Success 200
// @Router /app/delivery/v1/covidcert/complete [post]
func (h *AppHandler) Complete(c *gin.Context) {
	req, ok := h.bindSigned(c)
	if !ok {
		return
	}

	if err := h.delivery.Complete(c.Request.Context(), req); err != nil {
		abortWithError(c, h.logger, "Failed to complete transfer", err)
		return
	}
	c.Status(http.StatusOK)
}

// RegisterPush stores or removes the device's push token
// @Summary Register for heartbeat pushes
// @Accept json
// @Param request body PushRegistrationRequest true "Push registration"
// @Success 200
// @Router /app/delivery/v1/push/register [post]
func (h *AppHandler) RegisterPush(c *gin.Context) {
	var req PushRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	pushType, err := models.ParsePushType(req.PushType)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid push type")
		return
	}

	if err := h.push.Upsert(c.Request.Context(), req.PushToken, pushType, req.RegisterID); err != nil {
		h.logger.Error("Failed to register push token", zap.String("push_type", string(pushType)), zap.Error(err))
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Status(http.StatusOK)
}

func (h *AppHandler) bindSigned(c *gin.Context) (*service.SignedRequest, bool) {
	var req SignedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return nil, false
	}
	code, ok := validCode(req.Code)
	if !ok {
		c.String(http.StatusBadRequest, "invalid code")
		return nil, false
	}
	return &service.SignedRequest{
		Code:             code,
		SignaturePayload: req.SignaturePayload,
		Signature:        req.Signature,
	}, true
}
