// Package service implements the delivery protocol on top of the crypto
// engines and the database: the transfer and push registries, the signed
// app operations, certificate upload, heartbeat dispatch and the scheduled
// jobs.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
)

// RegistrationResult describes a freshly opened transfer
type RegistrationResult struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	FailsAt   time.Time `json:"failsAt"`
}

// TransferRegistry tracks transfers through Open, Ready and Closed
type TransferRegistry struct {
	db  *database.Database
	cfg config.DeliveryConfig
	now func() time.Time
}

// NewTransferRegistry creates a new transfer registry
func NewTransferRegistry(db *database.Database, cfg *config.Config) *TransferRegistry {
	return &TransferRegistry{
		db:  db,
		cfg: cfg.Delivery,
		now: time.Now,
	}
}

// Register opens a transfer for code owned by publicKey
func (r *TransferRegistry) Register(ctx context.Context, code, publicKey string, alg crypto.Algorithm) (*RegistrationResult, error) {
	now := r.now().UTC()
	code = security.SanitizeCode(code)

	transfer := &models.Transfer{
		Code:          code,
		CreatedAt:     now,
		PublicKey:     publicKey,
		PublicKeyHash: crypto.PublicKeyHash(publicKey),
		Algorithm:     string(alg),
		ExpiresAt:     sql.NullTime{Time: now.Add(r.cfg.CodeValidity), Valid: true},
		FailsAt:       sql.NullTime{Time: now.Add(r.cfg.CodeFailAfter), Valid: true},
	}
	if err := r.db.CreateTransfer(ctx, transfer, r.cfg.EnforceUniquePublicKey); err != nil {
		return nil, err
	}
	transfersRegisteredTotal.Inc()

	return &RegistrationResult{
		Code:      code,
		ExpiresAt: transfer.ExpiresAt.Time,
		FailsAt:   transfer.FailsAt.Time,
	}, nil
}

// Find returns the open transfer registered under code
func (r *TransferRegistry) Find(ctx context.Context, code string) (*models.Transfer, error) {
	return r.db.GetTransferByCode(ctx, security.SanitizeCode(code))
}

// AttachCertificate stores the encrypted certificate of code, replacing any earlier one
func (r *TransferRegistry) AttachCertificate(ctx context.Context, code, encryptedHcert, encryptedPdf string) error {
	transfer, err := r.Find(ctx, code)
	if err != nil {
		return err
	}
	return r.db.SaveCovidCert(ctx, &models.CovidCert{
		TransferID:     transfer.ID,
		EncryptedHcert: encryptedHcert,
		EncryptedPdf:   encryptedPdf,
		CreatedAt:      r.now().UTC(),
	})
}

// Fetch returns the certificate of code as a list, empty while not ready
func (r *TransferRegistry) Fetch(ctx context.Context, code string) ([]*models.CovidCert, error) {
	transfer, err := r.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.db.ListCovidCerts(ctx, transfer.ID)
}

// Close deletes the transfer of code and its certificate
func (r *TransferRegistry) Close(ctx context.Context, code string) error {
	return r.db.DeleteTransferByCode(ctx, security.SanitizeCode(code))
}

// Reap deletes transfers past their fail deadline and, for transfers without
// one, those created before the retention period
func (r *TransferRegistry) Reap(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	n, err := r.db.ReapTransfers(ctx, now, now.Add(-r.cfg.RetentionPeriod))
	if err != nil {
		return 0, fmt.Errorf("failed to reap transfers: %w", err)
	}
	transfersReapedTotal.Add(float64(n))
	return n, nil
}

// FindWithoutCertificate lists open transfers created before createdBefore
// that never received a certificate
func (r *TransferRegistry) FindWithoutCertificate(ctx context.Context, createdBefore time.Time) ([]*models.Transfer, error) {
	return r.db.ListTransfersWithoutCovidCert(ctx, createdBefore)
}
