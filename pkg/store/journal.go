// Package store provides SQLite-backed persistence for fired alerts and the
// user's watch list.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

const watchlistKey = "watchlist"

// Journal wraps a SQLite database. Alerts submitted from the event loop are
// queued and written by Run so the loop never waits on disk.
type Journal struct {
	db        *sql.DB
	queue     chan models.AlertRecord
	maxAlerts int
	logger    *logrus.Entry
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/spread-monitor/journal.db.
func New(dbPath string, buffer, maxAlerts int, logger *logrus.Logger) (*Journal, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "spread-monitor", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if buffer <= 0 {
		buffer = 256
	}
	if maxAlerts <= 0 {
		maxAlerts = 10000
	}
	j := &Journal{
		db:        db,
		queue:     make(chan models.AlertRecord, buffer),
		maxAlerts: maxAlerts,
		logger:    logger.WithField("component", "journal"),
	}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			kind       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			value      REAL NOT NULL,
			threshold  REAL NOT NULL,
			fired_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_fired_at ON alerts(fired_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Submit queues rec for writing. When the queue is full the record is
// dropped and logged.
func (j *Journal) Submit(rec models.AlertRecord) {
	select {
	case j.queue <- rec:
	default:
		j.logger.WithField("alert_id", rec.ID).Warn("Journal queue full, dropping alert")
	}
}

// Run writes queued alerts until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			j.flush()
			return
		case rec := <-j.queue:
			j.write(rec)
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case rec := <-j.queue:
			j.write(rec)
		default:
			return
		}
	}
}

func (j *Journal) write(rec models.AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.AddAlert(ctx, rec); err != nil {
		j.logger.WithError(err).WithField("alert_id", rec.ID).Error("Failed to store alert")
	}
}

// AddAlert inserts rec and trims the table to the newest maxAlerts rows.
func (j *Journal) AddAlert(ctx context.Context, rec models.AlertRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (id, symbol, kind, title, body, value, threshold, fired_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Symbol, string(rec.Kind), rec.Title, rec.Body,
		rec.Value, rec.Threshold, rec.FiredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY fired_at DESC LIMIT ?
		)`, j.maxAlerts); err != nil {
		return fmt.Errorf("failed to trim alerts: %w", err)
	}
	return tx.Commit()
}

// RecentAlerts returns up to limit alerts, newest first. An empty symbol
// matches every symbol.
func (j *Journal) RecentAlerts(ctx context.Context, symbol string, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, symbol, kind, title, body, value, threshold, fired_at FROM alerts`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY fired_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var (
			rec     models.AlertRecord
			kind    string
			firedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &kind, &rec.Title, &rec.Body, &rec.Value, &rec.Threshold, &firedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rec.Kind = models.AlertKind(kind)
		rec.FiredAt = time.Unix(0, firedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveWatchlist persists the watch list.
func (j *Journal) SaveWatchlist(ctx context.Context, symbols []string) error {
	b, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("failed to encode watch list: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		watchlistKey, string(b), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save watch list: %w", err)
	}
	return nil
}

// LoadWatchlist returns the persisted watch list. ok is false when none has
// been saved yet.
func (j *Journal) LoadWatchlist(ctx context.Context) (symbols []string, ok bool, err error) {
	var raw string
	err = j.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, watchlistKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load watch list: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, false, fmt.Errorf("failed to decode watch list: %w", err)
	}
	return symbols, true, nil
}
