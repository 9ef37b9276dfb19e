package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"go-citizenlink/types"
)

const schema = `
	CREATE TABLE IF NOT EXISTS complaints (
		id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_complaints_submitted_at ON complaints(submitted_at);
`

// timestamps are stored fixed-width so they sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is a local complaint source for development and tests.
type SQLiteStore struct {
	conn     *sql.DB
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// OpenSQLite opens or creates the complaint database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string, lookback time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open complaint database: %w", err)
	}
	// every in-memory connection is its own database
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize complaint schema: %w", err)
	}

	logger.Info("complaint database ready", "path", path)
	return &SQLiteStore{conn: conn, lookback: lookback, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Insert adds or replaces a complaint.
func (s *SQLiteStore) Insert(ctx context.Context, c types.Complaint) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO complaints (id, lat, lng, category, subcategory, text, location, submitted_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Lat, c.Lng, string(c.Category), c.Subcategory, c.Text, c.Location,
		c.SubmittedAt.UTC().Format(timeLayout), c.Status,
	)
	if err != nil {
		return fmt.Errorf("insert complaint %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveComplaints(ctx context.Context) ([]types.Complaint, error) {
	query := `SELECT id, lat, lng, category, subcategory, text, location, submitted_at, status FROM complaints`
	var args []any
	if s.lookback > 0 {
		query += ` WHERE submitted_at >= ?`
		args = append(args, s.now().Add(-s.lookback).UTC().Format(timeLayout))
	}
	query += ` ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query complaints: %w", err)
	}
	defer rows.Close()

	var out []types.Complaint
	for rows.Next() {
		var (
			c         types.Complaint
			category  string
			submitted string
		)
		if err := rows.Scan(&c.ID, &c.Lat, &c.Lng, &category, &c.Subcategory, &c.Text, &c.Location, &submitted, &c.Status); err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		c.Category = types.Category(category)
		c.SubmittedAt, err = time.Parse(timeLayout, submitted)
		if err != nil {
			s.logger.Warn("skipping complaint with bad timestamp", "id", c.ID, "submitted_at", submitted)
			continue
		}
		if !isActive(c.Status) {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
