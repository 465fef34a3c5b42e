package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/mcdev12/livebid/go/internal/sqlutil"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT,
	image_link       TEXT NOT NULL DEFAULT '',
	start_time       INTEGER NOT NULL,
	end_time         INTEGER NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	bid_increment    INTEGER NOT NULL DEFAULT 10,
	current_bid      INTEGER NOT NULL DEFAULT 0,
	leader           TEXT,
	last_bid_at      INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_start_time ON items(start_time);
`

const sqliteColumns = `id, title, description, image_link, start_time, end_time,
	duration_minutes, bid_increment, current_bid, leader, last_bid_at, created_at`

// SQLiteStore implements ItemStore on an embedded SQLite file. Times are
// stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path. Use ":memory:" for
// a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite only supports one writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite item store ready")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM items ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id uuid.UUID) (models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM items WHERE id = ?`, id.String())
	item, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *SQLiteStore) ImportItems(ctx context.Context, items []models.Item) (int, error) {
	inserted := 0
	err := sqlutil.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, item := range items {
			item.Normalize()
			res, err := tx.ExecContext(ctx, `
				INSERT INTO items (
					id, title, description, image_link, start_time, end_time,
					duration_minutes, bid_increment, current_bid, leader, created_at
				) VALUES (?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(id) DO NOTHING`,
				item.ID.String(), item.Title, sqlutil.ToSqlString(item.Description), item.ImageLink,
				sqlutil.ToUnixMillis(item.StartTime), sqlutil.ToUnixMillis(item.EndTime),
				item.DurationMinutes, item.Increment, item.CurrentBid,
				sqlutil.ToSqlString(item.Leader), sqlutil.ToUnixMillis(createdAt(item)),
			)
			if err != nil {
				return fmt.Errorf("insert item %s: %w", item.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *SQLiteStore) PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET current_bid = ?, leader = ?, last_bid_at = CAST(strftime('%s','now') AS INTEGER) * 1000
		WHERE id = ? AND current_bid < ?`,
		currentBid, leader, itemID.String(), currentBid,
	)
	if err != nil {
		return fmt.Errorf("persist bid: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanSQLiteItem(row rowScanner) (models.Item, error) {
	var (
		item                         models.Item
		id                           string
		description, leader          sql.NullString
		start, end, lastBid, created int64
	)
	err := row.Scan(
		&id, &item.Title, &description, &item.ImageLink, &start, &end,
		&item.DurationMinutes, &item.Increment, &item.CurrentBid, &leader, &lastBid, &created,
	)
	if err != nil {
		return models.Item{}, fmt.Errorf("scan item: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return models.Item{}, fmt.Errorf("parse item id %q: %w", id, err)
	}
	item.ID = parsed
	item.Description = sqlutil.FromSqlStringPtr(description)
	item.Leader = sqlutil.FromSqlStringPtr(leader)
	item.StartTime = sqlutil.FromUnixMillis(start)
	item.EndTime = sqlutil.FromUnixMillis(end)
	item.LastBidAt = sqlutil.FromUnixMillis(lastBid)
	item.CreatedAt = sqlutil.FromUnixMillis(created)
	return item, nil
}
