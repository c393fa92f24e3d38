package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"sentimentengine/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable store for articles, minute rows, and
// per-second snapshots. Single-writer, WAL mode, matching the teacher's
// candle store connection policy.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath, enabling WAL mode and creating the schema
// if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS article (
			hash                  TEXT PRIMARY KEY,
			source                TEXT NOT NULL,
			symbol                TEXT NOT NULL,
			headline              TEXT NOT NULL,
			summary               TEXT NOT NULL,
			url                   TEXT NOT NULL,
			publish_time          INTEGER NOT NULL,
			sentiment             REAL NOT NULL,
			impact                REAL NOT NULL,
			weighted_contribution REAL NOT NULL,
			created_at            INTEGER NOT NULL,
			analyzed              INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS minute_row (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			composite      REAL NOT NULL,
			news           REAL NOT NULL,
			reddit         REAL NOT NULL,
			technical      REAL NOT NULL,
			analyst        REAL NOT NULL,
			label          TEXT NOT NULL,
			article_count  INTEGER NOT NULL,
			cached_count   INTEGER NOT NULL,
			new_count      INTEGER NOT NULL,
			price_snapshot BLOB,
			indicator_snapshot BLOB
		);

		CREATE TABLE IF NOT EXISTS second_snapshot (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_symbol TEXT NOT NULL,
			bucket_second     INTEGER NOT NULL,
			composite         REAL NOT NULL,
			news_cached       REAL NOT NULL,
			technical_cached  REAL NOT NULL,
			open              REAL NOT NULL,
			high              REAL NOT NULL,
			low               REAL NOT NULL,
			close             REAL NOT NULL,
			ticks_count       INTEGER NOT NULL,
			UNIQUE(instrument_symbol, bucket_second)
		);

		CREATE TABLE IF NOT EXISTS tick_candle_100 (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_symbol TEXT NOT NULL,
			sequence          INTEGER NOT NULL,
			first_tick_time   INTEGER NOT NULL,
			last_tick_time    INTEGER NOT NULL,
			duration_seconds  REAL NOT NULL,
			open              REAL NOT NULL,
			high              REAL NOT NULL,
			low               REAL NOT NULL,
			close             REAL NOT NULL,
			volume            REAL NOT NULL,
			ticks_count       INTEGER NOT NULL,
			UNIQUE(instrument_symbol, sequence)
		);

		CREATE INDEX IF NOT EXISTS idx_minute_row_ts ON minute_row(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_second_snapshot_latest ON second_snapshot(instrument_symbol, bucket_second DESC);
	`)
	return err
}

// UpsertArticle implements save.ArticleStore: insert-or-replace keyed on
// hash. created_at is only ever set on first insert.
func (s *SQLiteStore) UpsertArticle(ctx context.Context, a model.Article) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO article (hash, source, symbol, headline, summary, url, publish_time, sentiment, impact, weighted_contribution, created_at, analyzed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			sentiment = excluded.sentiment,
			impact = excluded.impact,
			weighted_contribution = excluded.weighted_contribution,
			analyzed = excluded.analyzed
	`,
		a.Hash, a.Source, a.Symbol, a.Headline, a.Summary, a.URL,
		a.PublishTime.Unix(), a.Sentiment, a.Impact, a.WeightedContribution,
		time.Now().Unix(), a.Scored,
	)
	if err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// InsertSnapshot appends one per-second snapshot, replacing any existing
// row for the same (instrument, bucket_second) — a duplicate emission for
// an already-finalized second is idempotent, not an error.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap model.SecondSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO second_snapshot (instrument_symbol, bucket_second, composite, news_cached, technical_cached, open, high, low, close, ticks_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_symbol, bucket_second) DO UPDATE SET
			composite = excluded.composite,
			news_cached = excluded.news_cached,
			technical_cached = excluded.technical_cached,
			open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
			ticks_count = excluded.ticks_count
	`,
		snap.Symbol, snap.Bucket.Unix(), snap.Composite, snap.NewsCached, snap.TechnicalCached,
		snap.Open, snap.High, snap.Low, snap.Close, snap.TicksCount,
	)
	if err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// InsertTickCandle100 appends one 100-tick candle. A repeated sequence
// number (e.g. a retried write after a transient failure) is idempotent.
func (s *SQLiteStore) InsertTickCandle100(ctx context.Context, c model.TickCandle100) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tick_candle_100 (instrument_symbol, sequence, first_tick_time, last_tick_time, duration_seconds, open, high, low, close, volume, ticks_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_symbol, sequence) DO NOTHING
	`,
		c.Symbol, c.Sequence, c.FirstTickTime.UnixMilli(), c.LastTickTime.UnixMilli(), c.DurationSeconds(),
		c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount,
	)
	if err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// LatestTickCandle100 returns the highest-sequence 100-tick candle for symbol.
func (s *SQLiteStore) LatestTickCandle100(ctx context.Context, symbol string) (model.TickCandle100, bool, error) {
	var c model.TickCandle100
	var firstMS, lastMS int64
	var duration float64
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, first_tick_time, last_tick_time, duration_seconds, open, high, low, close, volume, ticks_count
		FROM tick_candle_100 WHERE instrument_symbol = ? ORDER BY sequence DESC LIMIT 1
	`, symbol).Scan(&c.Sequence, &firstMS, &lastMS, &duration,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TicksCount)
	if err == sql.ErrNoRows {
		return model.TickCandle100{}, false, nil
	}
	if err != nil {
		return model.TickCandle100{}, false, err
	}
	c.Symbol = symbol
	c.FirstTickTime = time.UnixMilli(firstMS).UTC()
	c.LastTickTime = time.UnixMilli(lastMS).UTC()
	return c, true, nil
}

// InsertMinuteRow records a new minute-analysis row.
func (s *SQLiteStore) InsertMinuteRow(ctx context.Context, row model.MinuteRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO minute_row (timestamp, composite, news, reddit, technical, analyst, label, article_count, cached_count, new_count, price_snapshot, indicator_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.Timestamp.Unix(), row.Composite, row.News, row.Reddit, row.Technical, row.Analyst, row.Label,
		row.ArticleCount, row.CachedCount, row.NewCount, row.PriceSnapshot, row.IndicatorSnapshot,
	)
	if err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// LatestMinuteRow returns the most recently inserted minute row.
func (s *SQLiteStore) LatestMinuteRow(ctx context.Context) (model.MinuteRow, bool, error) {
	var row model.MinuteRow
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, composite, news, reddit, technical, analyst, label, article_count, cached_count, new_count, price_snapshot, indicator_snapshot
		FROM minute_row ORDER BY timestamp DESC LIMIT 1
	`).Scan(&ts, &row.Composite, &row.News, &row.Reddit, &row.Technical, &row.Analyst, &row.Label,
		&row.ArticleCount, &row.CachedCount, &row.NewCount, &row.PriceSnapshot, &row.IndicatorSnapshot)
	if err == sql.ErrNoRows {
		return model.MinuteRow{}, false, nil
	}
	if err != nil {
		return model.MinuteRow{}, false, err
	}
	row.Timestamp = time.Unix(ts, 0).UTC()
	return row, true, nil
}

// LatestSnapshot returns the most recent per-second snapshot for symbol.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, symbol string) (model.SecondSnapshot, bool, error) {
	var snap model.SecondSnapshot
	var bucket int64
	err := s.db.QueryRowContext(ctx, `
		SELECT bucket_second, composite, news_cached, technical_cached, open, high, low, close, ticks_count
		FROM second_snapshot WHERE instrument_symbol = ? ORDER BY bucket_second DESC LIMIT 1
	`, symbol).Scan(&bucket, &snap.Composite, &snap.NewsCached, &snap.TechnicalCached,
		&snap.Open, &snap.High, &snap.Low, &snap.Close, &snap.TicksCount)
	if err == sql.ErrNoRows {
		return model.SecondSnapshot{}, false, nil
	}
	if err != nil {
		return model.SecondSnapshot{}, false, err
	}
	snap.Symbol = symbol
	snap.Bucket = time.Unix(bucket, 0).UTC()
	return snap, true, nil
}

// RecentSnapshots returns up to n most recent snapshots for symbol, oldest
// first, for the composer's micro-momentum window.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, symbol string, n int) ([]model.SecondSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket_second, composite, news_cached, technical_cached, open, high, low, close, ticks_count
		FROM second_snapshot WHERE instrument_symbol = ? ORDER BY bucket_second DESC LIMIT ?
	`, symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SecondSnapshot
	for rows.Next() {
		var snap model.SecondSnapshot
		var bucket int64
		if err := rows.Scan(&bucket, &snap.Composite, &snap.NewsCached, &snap.TechnicalCached,
			&snap.Open, &snap.High, &snap.Low, &snap.Close, &snap.TicksCount); err != nil {
			return nil, err
		}
		snap.Symbol = symbol
		snap.Bucket = time.Unix(bucket, 0).UTC()
		out = append(out, snap)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// classifyWriteErr marks busy/locked errors as transient so callers using
// internal/retry retry them; anything else is treated as permanent.
func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if containsAny(msg, "database is locked", "busy", "deadlock") {
		return retryMark(err)
	}
	return err
}
