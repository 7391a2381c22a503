package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
	"go.uber.org/zap"
)

// RegisterRequest opens a transfer, signed with the key it registers
type RegisterRequest struct {
	Code             string
	PublicKey        string
	Algorithm        crypto.Algorithm
	SignaturePayload string
	Signature        string
}

// SignedRequest is an app call against an existing transfer
type SignedRequest struct {
	Code             string
	SignaturePayload string
	Signature        string
}

// DeliveryService implements the signed app operations and certificate upload
type DeliveryService struct {
	registry  *TransferRegistry
	engines   *crypto.Engines
	validator *security.Validator
	logger    *zap.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(registry *TransferRegistry, engines *crypto.Engines, validator *security.Validator, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{
		registry:  registry,
		engines:   engines,
		validator: validator,
		logger:    logger.With(zap.String("component", "delivery")),
	}
}

// Register verifies the signature with the supplied key, checks the signed
// payload and opens the transfer
func (s *DeliveryService) Register(ctx context.Context, req *RegisterRequest) (*RegistrationResult, error) {
	engine, err := s.engines.For(req.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := engine.Verify([]byte(req.SignaturePayload), req.Signature, req.PublicKey); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req.SignaturePayload, security.ActionRegister, req.Code); err != nil {
		return nil, err
	}

	result, err := s.registry.Register(ctx, req.Code, req.PublicKey, req.Algorithm)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Transfer registered",
		zap.String("code", result.Code),
		zap.String("algorithm", string(req.Algorithm)),
		zap.String("public_key_sha_256", crypto.PublicKeyHash(req.PublicKey)),
	)
	return result, nil
}

// Fetch returns the encrypted certificate of a transfer, empty while not ready
func (s *DeliveryService) Fetch(ctx context.Context, req *SignedRequest) ([]*models.CovidCert, error) {
	if err := s.authorize(ctx, req, security.ActionGet); err != nil {
		return nil, err
	}

	certs, err := s.registry.Fetch(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if len(certs) > 0 {
		s.logger.Info("Delivering covid certs", zap.String("code", req.Code), zap.Int("count", len(certs)))
	}
	return certs, nil
}

// Complete closes a delivered transfer. It is a best-effort cleanup: a code
// that is already gone counts as success. Signature and payload failures are
// still reported so the client knows to sign again.
func (s *DeliveryService) Complete(ctx context.Context, req *SignedRequest) error {
	err := s.authorize(ctx, req, security.ActionDelete)
	if err == nil {
		err = s.registry.Close(ctx, req.Code)
	}
	if errors.Is(err, security.ErrCodeNotFound) {
		s.logger.Debug("Transfer already closed", zap.String("code", req.Code))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("Transfer complete", zap.String("code", req.Code))
	return nil
}

// UploadCertificate encrypts both certificate forms to the transfer's key
// and attaches them
func (s *DeliveryService) UploadCertificate(ctx context.Context, code, hcert, pdf string) error {
	transfer, err := s.registry.Find(ctx, code)
	if err != nil {
		return err
	}

	engine, err := s.engineFor(transfer)
	if err != nil {
		return err
	}
	encryptedHcert, err := engine.Encrypt([]byte(hcert), transfer.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt hcert: %w", err)
	}
	encryptedPdf, err := engine.Encrypt([]byte(pdf), transfer.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt pdf: %w", err)
	}

	if err := s.registry.AttachCertificate(ctx, code, encryptedHcert, encryptedPdf); err != nil {
		return err
	}
	s.logger.Info("Covid cert encrypted and stored", zap.String("code", transfer.Code))
	return nil
}

// authorize verifies the signature with the stored key and checks the payload
func (s *DeliveryService) authorize(ctx context.Context, req *SignedRequest, action security.Action) error {
	transfer, err := s.registry.Find(ctx, req.Code)
	if err != nil {
		return err
	}

	engine, err := s.engineFor(transfer)
	if err != nil {
		return err
	}
	if err := engine.Verify([]byte(req.SignaturePayload), req.Signature, transfer.PublicKey); err != nil {
		return err
	}
	return s.validator.Validate(req.SignaturePayload, action, req.Code)
}

func (s *DeliveryService) engineFor(transfer *models.Transfer) (crypto.Engine, error) {
	alg, err := crypto.ParseAlgorithm(transfer.Algorithm)
	if err != nil {
		s.logger.Error("Unexpected algorithm on transfer", zap.String("code", transfer.Code), zap.String("algorithm", transfer.Algorithm))
		return nil, err
	}
	return s.engines.For(alg)
}
