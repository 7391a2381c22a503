package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
)

const pushColumns = `pk_push_registration_id, push_token, push_type, register_id, last_push, created_at`

// UpsertPushRegistration stores reg keyed by push token or register id.
// An empty token removes the registration of reg.RegisterID. When the token
// and the register id currently belong to two different rows, the row
// holding the token is dropped and the register id row takes the token over.
func (d *Database) UpsertPushRegistration(ctx context.Context, reg *models.PushRegistration) error {
	if reg.PushToken == "" {
		return d.DeletePushRegistrationByRegisterID(ctx, reg.RegisterID)
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT pk_push_registration_id, push_token, register_id FROM t_push_registration
		          WHERE push_token = ? OR register_id = ?`
		rows, err := tx.QueryContext(ctx, d.rebind(query), reg.PushToken, reg.RegisterID)
		if err != nil {
			return fmt.Errorf("failed to look up push registration: %w", err)
		}

		var byToken, byRegisterID int64
		for rows.Next() {
			var id int64
			var token, registerID string
			if err := rows.Scan(&id, &token, &registerID); err != nil {
				rows.Close()
				return err
			}
			if registerID == reg.RegisterID {
				byRegisterID = id
			} else if token == reg.PushToken {
				byToken = id
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if byRegisterID == 0 && byToken == 0 {
			insert := `INSERT INTO t_push_registration (push_token, push_type, register_id, created_at)
			           VALUES (?, ?, ?, ?)
			           RETURNING pk_push_registration_id`
			return tx.QueryRowContext(ctx, d.rebind(insert),
				reg.PushToken, string(reg.PushType), reg.RegisterID, reg.CreatedAt.UTC(),
			).Scan(&reg.ID)
		}

		target := byRegisterID
		if target == 0 {
			target = byToken
		} else if byToken != 0 {
			if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM t_push_registration WHERE pk_push_registration_id = ?`), byToken); err != nil {
				return fmt.Errorf("failed to drop superseded push registration: %w", err)
			}
		}

		update := `UPDATE t_push_registration SET push_token = ?, register_id = ?
		           WHERE pk_push_registration_id = ?`
		if _, err := tx.ExecContext(ctx, d.rebind(update), reg.PushToken, reg.RegisterID, target); err != nil {
			return fmt.Errorf("failed to update push registration: %w", err)
		}
		reg.ID = target
		return nil
	})
}

// DeletePushRegistrationByRegisterID removes the registration of registerID, if any
func (d *Database) DeletePushRegistrationByRegisterID(ctx context.Context, registerID string) error {
	_, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM t_push_registration WHERE register_id = ?`), registerID)
	return err
}

// DeletePushRegistrationsByTokens removes every registration holding one of tokens
func (d *Database) DeletePushRegistrationsByTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	args := make([]any, len(tokens))
	for i, token := range tokens {
		args[i] = token
	}
	query := `DELETE FROM t_push_registration WHERE push_token IN (` + placeholders(len(tokens)) + `)`

	res, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPushRegistrationsAfter returns up to limit registrations of pushType
// with an id above afterID, ascending by id
func (d *Database) ListPushRegistrationsAfter(ctx context.Context, pushType models.PushType, afterID int64, limit int) ([]*models.PushRegistration, error) {
	query := `SELECT ` + pushColumns + ` FROM t_push_registration
	          WHERE push_type = ? AND pk_push_registration_id > ?
	          ORDER BY pk_push_registration_id ASC
	          LIMIT ?`
	return d.queryPushRegistrations(ctx, query, string(pushType), afterID, limit)
}

// ListPushRegistrationsDue returns up to limit registrations of pushType that
// were never pushed or last pushed before pushedBefore, oldest first
func (d *Database) ListPushRegistrationsDue(ctx context.Context, pushType models.PushType, pushedBefore time.Time, limit int) ([]*models.PushRegistration, error) {
	query := `SELECT ` + pushColumns + ` FROM t_push_registration
	          WHERE push_type = ? AND (last_push IS NULL OR last_push < ?)
	          ORDER BY last_push ASC NULLS FIRST, pk_push_registration_id ASC
	          LIMIT ?`
	return d.queryPushRegistrations(ctx, query, string(pushType), pushedBefore.UTC(), limit)
}

// MarkPushed sets last_push for exactly the given registration ids in one transaction
func (d *Database) MarkPushed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, d.rebind(`UPDATE t_push_registration SET last_push = ? WHERE pk_push_registration_id = ?`))
		if err != nil {
			return fmt.Errorf("failed to prepare push update: %w", err)
		}
		defer stmt.Close()

		at = at.UTC()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, at, id); err != nil {
				return fmt.Errorf("failed to mark registration %d pushed: %w", id, err)
			}
		}
		return nil
	})
}

// CountPushRegistrations returns the number of registrations of every type
func (d *Database) CountPushRegistrations(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(pk_push_registration_id) FROM t_push_registration`).Scan(&count)
	return count, err
}

func (d *Database) queryPushRegistrations(ctx context.Context, query string, args ...any) ([]*models.PushRegistration, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.PushRegistration
	for rows.Next() {
		var reg models.PushRegistration
		var pushType string
		if err := rows.Scan(&reg.ID, &reg.PushToken, &pushType, &reg.RegisterID, &reg.LastPush, &reg.CreatedAt); err != nil {
			return nil, err
		}
		reg.PushType = models.PushType(pushType)
		regs = append(regs, &reg)
	}
	return regs, rows.Err()
}
