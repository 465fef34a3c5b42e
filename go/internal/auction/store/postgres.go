package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/mcdev12/livebid/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// ChangeChannel is the LISTEN/NOTIFY channel fed by the items trigger.
const ChangeChannel = "auction_item_changes"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id               UUID PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT,
	image_link       TEXT NOT NULL DEFAULT '',
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	bid_increment    BIGINT NOT NULL DEFAULT 10,
	current_bid      BIGINT NOT NULL DEFAULT 0 CHECK (current_bid >= 0),
	leader           TEXT,
	last_bid_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION notify_auction_item_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('auction_item_changes', json_build_object('op', 'delete', 'id', OLD.id)::text);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('auction_item_changes', json_build_object('op', 'insert', 'id', NEW.id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS auction_item_change ON items;
CREATE TRIGGER auction_item_change
	AFTER INSERT OR DELETE ON items
	FOR EACH ROW EXECUTE FUNCTION notify_auction_item_change();
`

const postgresColumns = `id, title, description, image_link, start_time, end_time,
	duration_minutes, bid_increment, current_bid, leader, last_bid_at, created_at`

// PostgresStore implements ItemStore on Postgres via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings the database.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the items table and its change trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate items: %w", err)
	}
	return nil
}

func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postgresColumns+` FROM items ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanPostgresItem(rows)
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

func (s *PostgresStore) GetItem(ctx context.Context, id uuid.UUID) (models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresColumns+` FROM items WHERE id = $1`, id)
	item, err := scanPostgresItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *PostgresStore) ImportItems(ctx context.Context, items []models.Item) (int, error) {
	inserted := 0
	err := sqlutil.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, item := range items {
			item.Normalize()
			res, err := tx.ExecContext(ctx, `
				INSERT INTO items (
					id, title, description, image_link, start_time, end_time,
					duration_minutes, bid_increment, current_bid, leader, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
				ON CONFLICT (id) DO NOTHING`,
				item.ID, item.Title, sqlutil.ToSqlString(item.Description), item.ImageLink,
				item.StartTime.UTC(), item.EndTime.UTC(), item.DurationMinutes, item.Increment,
				item.CurrentBid, sqlutil.ToSqlString(item.Leader), createdAt(item),
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

func (s *PostgresStore) DeleteItem(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *PostgresStore) PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET current_bid = $2, leader = $3, last_bid_at = now()
		WHERE id = $1 AND current_bid < $2`,
		itemID, currentBid, leader,
	)
	if err != nil {
		return fmt.Errorf("persist bid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().
			Str("item_id", itemID.String()).
			Int64("current_bid", currentBid).
			Msg("stored bid already current")
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresItem(row rowScanner) (models.Item, error) {
	var (
		item        models.Item
		description sql.NullString
		leader      sql.NullString
		lastBidAt   sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Title, &description, &item.ImageLink, &item.StartTime, &item.EndTime,
		&item.DurationMinutes, &item.Increment, &item.CurrentBid, &leader, &lastBidAt, &item.CreatedAt,
	)
	if err != nil {
		return models.Item{}, fmt.Errorf("scan item: %w", err)
	}
	item.Description = sqlutil.FromSqlStringPtr(description)
	item.Leader = sqlutil.FromSqlStringPtr(leader)
	item.LastBidAt = sqlutil.FromNullTime(lastBidAt)
	item.StartTime = item.StartTime.UTC()
	item.EndTime = item.EndTime.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}
