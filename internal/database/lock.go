package database

import (
	"context"
	"time"
)

// TryLock acquires the lease called name for owner until lockUntil. The lease
// is taken when no row exists or the current holder's lease ran out by now.
func (d *Database) TryLock(ctx context.Context, name, owner string, now, lockUntil time.Time) (bool, error) {
	now, lockUntil = now.UTC(), lockUntil.UTC()

	insert := `INSERT INTO t_shedlock (name, lock_until, locked_at, locked_by)
	           VALUES (?, ?, ?, ?)
	           ON CONFLICT (name) DO NOTHING`
	res, err := d.db.ExecContext(ctx, d.rebind(insert), name, lockUntil, now, owner)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}

	update := `UPDATE t_shedlock SET lock_until = ?, locked_at = ?, locked_by = ?
	           WHERE name = ? AND lock_until <= ?`
	res, err = d.db.ExecContext(ctx, d.rebind(update), lockUntil, now, owner, name, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock shortens the lease held by owner so it ends at lockUntil
func (d *Database) Unlock(ctx context.Context, name, owner string, lockUntil time.Time) error {
	query := `UPDATE t_shedlock SET lock_until = ? WHERE name = ? AND locked_by = ?`
	_, err := d.db.ExecContext(ctx, d.rebind(query), lockUntil.UTC(), name, owner)
	return err
}
