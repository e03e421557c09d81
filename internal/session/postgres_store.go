package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS augur_events (
	id         TEXT PRIMARY KEY,
	actor_id   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	turns      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS augur_events_session_idx ON augur_events (actor_id, session_id, id);
`

// PostgresStore keeps one row per event. Event IDs are ULIDs, so ordering by
// id is ordering by append time.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects with dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrStore, err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrStore, err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Append inserts one event row.
func (s *PostgresStore) Append(ctx context.Context, key Key, turns []Turn) error {
	if err := validate(turns); err != nil {
		return storeErr("append", key, err)
	}
	ev := newEvent(turns, s.now())
	data, err := json.Marshal(ev.Turns)
	if err != nil {
		return storeErr("append", key, fmt.Errorf("marshal turns: %w", err))
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO augur_events (id, actor_id, session_id, created_at, turns) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, key.ActorID, key.SessionID, ev.Timestamp, data)
	if err != nil {
		return storeErr("append", key, err)
	}
	return nil
}

// List selects the newest max rows and returns them oldest first.
func (s *PostgresStore) List(ctx context.Context, key Key, max int) ([]Event, error) {
	limit := any(nil)
	if max > 0 {
		limit = max
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, turns FROM (
			SELECT id, created_at, turns FROM augur_events
			WHERE actor_id = $1 AND session_id = $2
			ORDER BY id DESC LIMIT $3
		) recent ORDER BY id ASC`,
		key.ActorID, key.SessionID, limit)
	if err != nil {
		return nil, storeErr("list", key, err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			ev  Event
			raw []byte
		)
		if err := row.Scan(&ev.ID, &ev.Timestamp, &raw); err != nil {
			return Event{}, err
		}
		if err := json.Unmarshal(raw, &ev.Turns); err != nil {
			return Event{}, fmt.Errorf("decode turns of %s: %w", ev.ID, err)
		}
		return ev, nil
	})
	if err != nil {
		return nil, storeErr("list", key, err)
	}
	return events, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
