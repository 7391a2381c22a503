package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
)

const transferColumns = `pk_transfer_id, code, created_at, public_key, public_key_sha_256, algorithm, expires_at, fails_at`

// CreateTransfer inserts an open transfer. The code and, when enforceUniqueKey
// is set, the public key hash must not belong to another transfer. The check
// and the insert share one transaction and the unique constraints catch
// concurrent registrations that slip past the check.
func (d *Database) CreateTransfer(ctx context.Context, t *models.Transfer, enforceUniqueKey bool) error {
	var uniqueKey sql.NullString
	if enforceUniqueKey {
		uniqueKey = sql.NullString{String: t.PublicKeyHash, Valid: true}
	}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM t_transfer WHERE code = ?`), t.Code).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check transfer code: %w", err)
		}
		if exists > 0 {
			return security.ErrCodeAlreadyExists
		}

		if enforceUniqueKey {
			err = tx.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM t_transfer WHERE public_key_sha_256 = ?`), t.PublicKeyHash).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check public key: %w", err)
			}
			if exists > 0 {
				return security.ErrPublicKeyAlreadyExists
			}
		}

		query := `INSERT INTO t_transfer
		          (created_at, code, public_key, public_key_sha_256, unique_public_key_sha_256, algorithm, expires_at, fails_at)
		          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		          RETURNING pk_transfer_id`
		return tx.QueryRowContext(ctx, d.rebind(query),
			t.CreatedAt.UTC(), t.Code, t.PublicKey, t.PublicKeyHash, uniqueKey,
			t.Algorithm, utcNullTime(t.ExpiresAt), utcNullTime(t.FailsAt),
		).Scan(&t.ID)
	})
	if constraint, ok := uniqueViolation(err); ok {
		if strings.Contains(constraint, "public_key") {
			return security.ErrPublicKeyAlreadyExists
		}
		return security.ErrCodeAlreadyExists
	}
	return err
}

// GetTransferByCode retrieves the transfer registered under code
func (d *Database) GetTransferByCode(ctx context.Context, code string) (*models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM t_transfer WHERE code = ?`
	t, err := scanTransfer(d.db.QueryRowContext(ctx, d.rebind(query), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, security.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTransferByCode deletes the transfer and, through the cascade, its certificate
func (d *Database) DeleteTransferByCode(ctx context.Context, code string) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM t_transfer WHERE code = ?`), code)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return security.ErrCodeNotFound
	}
	return nil
}

// SaveCovidCert stores the certificate of a transfer, replacing any previous one
func (d *Database) SaveCovidCert(ctx context.Context, cert *models.CovidCert) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM t_transfer WHERE pk_transfer_id = ?`), cert.TransferID).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check transfer: %w", err)
		}
		if count == 0 {
			return security.ErrCodeNotFound
		}

		if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM t_covidcert WHERE fk_transfer_id = ?`), cert.TransferID); err != nil {
			return fmt.Errorf("failed to replace certificate: %w", err)
		}

		query := `INSERT INTO t_covidcert (fk_transfer_id, encrypted_hcert, encrypted_pdf, created_at)
		          VALUES (?, ?, ?, ?)
		          RETURNING pk_covidcert_id`
		return tx.QueryRowContext(ctx, d.rebind(query),
			cert.TransferID, cert.EncryptedHcert, cert.EncryptedPdf, cert.CreatedAt.UTC(),
		).Scan(&cert.ID)
	})
	// the transfer was closed between the check and the insert
	if foreignKeyViolation(err) {
		return security.ErrCodeNotFound
	}
	return err
}

// ListCovidCerts returns the certificates of a transfer, at most one
func (d *Database) ListCovidCerts(ctx context.Context, transferID int64) ([]*models.CovidCert, error) {
	query := `SELECT pk_covidcert_id, fk_transfer_id, encrypted_hcert, encrypted_pdf, created_at
	          FROM t_covidcert WHERE fk_transfer_id = ? ORDER BY pk_covidcert_id`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	certs := []*models.CovidCert{}
	for rows.Next() {
		var cert models.CovidCert
		if err := rows.Scan(&cert.ID, &cert.TransferID, &cert.EncryptedHcert, &cert.EncryptedPdf, &cert.CreatedAt); err != nil {
			return nil, err
		}
		certs = append(certs, &cert)
	}
	return certs, rows.Err()
}

// ReapTransfers deletes transfers past their fail deadline, and transfers
// without a deadline created before retentionCutoff, in one statement
func (d *Database) ReapTransfers(ctx context.Context, now, retentionCutoff time.Time) (int64, error) {
	query := `DELETE FROM t_transfer
	          WHERE fails_at < ? OR (fails_at IS NULL AND created_at < ?)`

	res, err := d.db.ExecContext(ctx, d.rebind(query), now.UTC(), retentionCutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListTransfersWithoutCovidCert returns open transfers created before
// createdBefore that never received a certificate
func (d *Database) ListTransfersWithoutCovidCert(ctx context.Context, createdBefore time.Time) ([]*models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM t_transfer
	          WHERE pk_transfer_id NOT IN (SELECT fk_transfer_id FROM t_covidcert)
	          AND created_at < ?
	          ORDER BY pk_transfer_id`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), createdBefore.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(
		&t.ID, &t.Code, &t.CreatedAt, &t.PublicKey, &t.PublicKeyHash,
		&t.Algorithm, &t.ExpiresAt, &t.FailsAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func utcNullTime(t sql.NullTime) sql.NullTime {
	if !t.Valid {
		return t
	}
	return sql.NullTime{Time: t.Time.UTC(), Valid: true}
}
