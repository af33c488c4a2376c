// Package storage archives finished audit sessions in a SQLite database so
// their reports and audit logs can be read back later.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sw33tLie/emvscope/pkg/audit"
	"github.com/sw33tLie/emvscope/pkg/ledger"
	"github.com/sw33tLie/emvscope/pkg/valuation"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("session not found")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  id              TEXT PRIMARY KEY,
  asset           TEXT,
  mode            TEXT NOT NULL,
  base_rate       REAL NOT NULL,
  state           TEXT NOT NULL,
  cause           TEXT,
  partial         INTEGER NOT NULL CHECK (partial IN (0,1)),
  frames_applied  INTEGER NOT NULL,
  frames_skipped  INTEGER NOT NULL,
  started_at      TEXT,
  finished_at     TEXT,
  saved_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS brand_ledgers (
  session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  position         INTEGER NOT NULL,
  brand            TEXT NOT NULL,
  money            REAL NOT NULL,
  sightings        INTEGER NOT NULL,
  unique_exposures INTEGER NOT NULL,
  quality_sum      REAL NOT NULL,
  exposed_seconds  REAL NOT NULL,
  PRIMARY KEY (session_id, brand)
);
CREATE TABLE IF NOT EXISTS audit_log (
  session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  seq          INTEGER NOT NULL,
  timestamp_ns INTEGER NOT NULL,
  frame_index  INTEGER NOT NULL,
  brand        TEXT NOT NULL,
  value        REAL NOT NULL,
  exposure_id  TEXT NOT NULL,
  PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_ledgers_brand ON brand_ledgers(brand);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// NewRecord builds the archive header of a session.
func NewRecord(sum audit.Summary, pricing valuation.Config) SessionRecord {
	rec := SessionRecord{
		ID:            sum.ID,
		Asset:         sum.Asset,
		Mode:          string(pricing.Mode),
		Rate:          pricing.BaseRate,
		State:         sum.State.String(),
		Partial:       sum.Partial,
		FramesApplied: sum.FramesApplied,
		FramesSkipped: sum.FramesSkipped,
		StartedAt:     sum.StartedAt,
		FinishedAt:    sum.FinishedAt,
	}
	if sum.Cause != nil {
		rec.Cause = sum.Cause.Error()
	}
	return rec
}

// SaveSession writes a session, its ledgers and its audit log in one
// transaction. Saving an id again replaces the previous archive.
func (d *DB) SaveSession(ctx context.Context, rec SessionRecord, ledgers []ledger.BrandLedger, log []ledger.AuditLogEntry) (err error) {
	if rec.ID == "" {
		return errors.New("session record has no id")
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{
		"DELETE FROM audit_log WHERE session_id = ?",
		"DELETE FROM brand_ledgers WHERE session_id = ?",
		"DELETE FROM sessions WHERE id = ?",
	} {
		if _, err = tx.ExecContext(ctx, q, rec.ID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(id, asset, mode, base_rate, state, cause, partial, frames_applied, frames_skipped, started_at, finished_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, nullIfEmpty(rec.Asset), rec.Mode, rec.Rate, rec.State, nullIfEmpty(rec.Cause), boolToInt(rec.Partial), rec.FramesApplied, rec.FramesSkipped, formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return err
	}

	for i, l := range ledgers {
		_, err = tx.ExecContext(ctx, `INSERT INTO brand_ledgers(session_id, position, brand, money, sightings, unique_exposures, quality_sum, exposed_seconds) VALUES(?,?,?,?,?,?,?,?)`,
			rec.ID, i, l.Brand, l.Money, l.Sightings, l.UniqueExposures(), l.QualitySum, l.ExposedSeconds)
		if err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log(session_id, seq, timestamp_ns, frame_index, brand, value, exposure_id) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range log {
		if _, err = stmt.ExecContext(ctx, rec.ID, i, int64(e.Timestamp), e.FrameIndex, e.Brand, e.Value, e.ExposureID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const sessionColumns = `s.id, s.asset, s.mode, s.base_rate, s.state, s.cause, s.partial, s.frames_applied, s.frames_skipped, s.started_at, s.finished_at,
	COALESCE((SELECT SUM(money) FROM brand_ledgers WHERE session_id = s.id), 0.0)`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(rs rowScanner) (SessionRecord, error) {
	var (
		rec               SessionRecord
		asset, cause      sql.NullString
		started, finished sql.NullString
		partial           int
	)
	if err := rs.Scan(&rec.ID, &asset, &rec.Mode, &rec.Rate, &rec.State, &cause, &partial, &rec.FramesApplied, &rec.FramesSkipped, &started, &finished, &rec.TotalMoney); err != nil {
		return SessionRecord{}, err
	}
	rec.Asset = asset.String
	rec.Cause = cause.String
	rec.Partial = partial == 1
	if started.Valid {
		rec.StartedAt = parseTime(started.String)
	}
	if finished.Valid {
		rec.FinishedAt = parseTime(finished.String)
	}
	return rec, nil
}

// ListOptions controls selection when listing sessions.
type ListOptions struct {
	AssetFilter string
	Since       time.Time
	Limit       int
}

// ListSessions returns archived sessions, most recent first.
func (d *DB) ListSessions(ctx context.Context, opts ListOptions) ([]SessionRecord, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.AssetFilter != "" {
		where += " AND s.asset LIKE ?"
		args = append(args, fmt.Sprintf("%%%s%%", opts.AssetFilter))
	}
	if !opts.Since.IsZero() {
		where += " AND s.started_at >= ?"
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	q := "SELECT " + sessionColumns + " FROM sessions s " + where + " ORDER BY s.started_at DESC, s.saved_at DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSession returns one archived session, or ErrNotFound.
func (d *DB) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions s WHERE s.id = ?", id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// LoadLedgers rebuilds the brand ledgers of a session in their original order.
func (d *DB) LoadLedgers(ctx context.Context, id string) ([]ledger.BrandLedger, error) {
	if _, err := d.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT brand, money, sightings, unique_exposures, quality_sum, exposed_seconds FROM brand_ledgers WHERE session_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.BrandLedger
	for rows.Next() {
		var (
			brand                      string
			money, qualitySum, exposed float64
			sightings, unique          int
		)
		if err := rows.Scan(&brand, &money, &sightings, &unique, &qualitySum, &exposed); err != nil {
			return nil, err
		}
		out = append(out, ledger.Restore(brand, money, sightings, unique, qualitySum, exposed))
	}
	return out, rows.Err()
}

// LoadAuditLog returns the audit log of a session in arrival order.
func (d *DB) LoadAuditLog(ctx context.Context, id string) ([]ledger.AuditLogEntry, error) {
	if _, err := d.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT timestamp_ns, frame_index, brand, value, exposure_id FROM audit_log WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditLogEntry
	for rows.Next() {
		var (
			e  ledger.AuditLogEntry
			ns int64
		)
		if err := rows.Scan(&ns, &e.FrameIndex, &e.Brand, &e.Value, &e.ExposureID); err != nil {
			return nil, err
		}
		e.Timestamp = time.Duration(ns)
		out = append(out, e)
	}
	return out, rows.Err()
}
