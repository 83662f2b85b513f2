package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guregu/null/v6"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"quantstore/market"
)

// SQLiteExporter 复权数据导出器: writes derived adjusted candles to SQLite.
// The CSV store stays the source of truth; the export is rebuilt by re-running it.
type SQLiteExporter struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteExporter opens (creating if needed) the database at path.
func NewSQLiteExporter(path string, logger *zap.Logger) (*SQLiteExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	e := &SQLiteExporter{db: db, logger: logger}
	if err := e.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return e, nil
}

func (e *SQLiteExporter) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS adjusted_kdata (
            security_id TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            code TEXT NOT NULL,
            open REAL,
            high REAL,
            low REAL,
            close REAL,
            volume REAL,
            turnover REAL,
            factor REAL,
            hfq_open REAL,
            hfq_high REAL,
            hfq_low REAL,
            hfq_close REAL,
            qfq_open REAL,
            qfq_high REAL,
            qfq_low REAL,
            qfq_close REAL,
            exported_at INTEGER DEFAULT (strftime('%s', 'now')),
            PRIMARY KEY (security_id, timestamp)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_adjusted_code ON adjusted_kdata(code)`,
	}
	for _, query := range queries {
		if _, err := e.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func nullable(f null.Float) interface{} {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

// ExportAdjusted upserts the candles of sec, keyed by (security_id, timestamp).
func (e *SQLiteExporter) ExportAdjusted(ctx context.Context, sec market.Security, candles []market.AdjustedCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO adjusted_kdata
        (security_id, timestamp, code, open, high, low, close, volume, turnover, factor,
         hfq_open, hfq_high, hfq_low, hfq_close, qfq_open, qfq_high, qfq_low, qfq_close)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx,
			sec.ID,
			market.FormatTime(c.Timestamp),
			sec.Code,
			nullable(c.Open), nullable(c.High), nullable(c.Low), nullable(c.Close),
			nullable(c.Volume), nullable(c.Turnover), nullable(c.Factor),
			nullable(c.HfqOpen), nullable(c.HfqHigh), nullable(c.HfqLow), nullable(c.HfqClose),
			nullable(c.QfqOpen), nullable(c.QfqHigh), nullable(c.QfqLow), nullable(c.QfqClose),
		)
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger.Info("exported adjusted candles", zap.String("security", sec.ID), zap.Int("rows", len(candles)))
	return nil
}

// ExportedRow 导出行
type ExportedRow struct {
	Timestamp string
	Close     null.Float
	HfqClose  null.Float
	QfqClose  null.Float
}

// Exported reads back the exported rows of a security, ordered by timestamp.
func (e *SQLiteExporter) Exported(ctx context.Context, securityID string) ([]ExportedRow, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT timestamp, close, hfq_close, qfq_close
        FROM adjusted_kdata WHERE security_id = ? ORDER BY timestamp`, securityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportedRow
	for rows.Next() {
		var r ExportedRow
		if err := rows.Scan(&r.Timestamp, &r.Close, &r.HfqClose, &r.QfqClose); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close 关闭数据库
func (e *SQLiteExporter) Close() error {
	return e.db.Close()
}
