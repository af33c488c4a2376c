package storage

import (
	"context"
	"database/sql"
)

// DeleteSession removes a session together with its ledgers and audit log.
func (d *DB) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM audit_log WHERE session_id = ?", id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM brand_ledgers WHERE session_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		err = ErrNotFound
		return err
	}
	return tx.Commit()
}

// GetStats aggregates every brand across all archived sessions, highest
// money first.
func (d *DB) GetStats(ctx context.Context) ([]BrandStats, error) {
	query := `
		SELECT
			brand,
			COUNT(DISTINCT session_id),
			SUM(money),
			SUM(sightings)
		FROM
			brand_ledgers
		GROUP BY
			brand
		ORDER BY
			SUM(money) DESC, brand;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []BrandStats
	for rows.Next() {
		var s BrandStats
		if err := rows.Scan(&s.Brand, &s.SessionCount, &s.Money, &s.Sightings); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
