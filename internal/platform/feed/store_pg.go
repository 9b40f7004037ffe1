package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type markerStorePG struct {
	pool *pgxpool.Pool
}

// NewMarkerStore returns a MarkerStore backed by the feed_marker table.
func NewMarkerStore(pool *pgxpool.Pool) MarkerStore {
	return &markerStorePG{pool: pool}
}

func (s *markerStorePG) Get(ctx context.Context, feedURI string) (*Marker, error) {
	var m Marker
	err := s.pool.QueryRow(ctx, `
		SELECT feed_uri, last_read_entry_id, last_read_page_uri, updated_at
		FROM feed_marker WHERE feed_uri = $1`, feedURI).
		Scan(&m.FeedURI, &m.LastReadEntryID, &m.LastReadPageURI, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get marker %s: %w", feedURI, err)
	}
	return &m, nil
}

func (s *markerStorePG) Save(ctx context.Context, m *Marker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_marker (feed_uri, last_read_entry_id, last_read_page_uri, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (feed_uri) DO UPDATE SET
			last_read_entry_id=EXCLUDED.last_read_entry_id,
			last_read_page_uri=EXCLUDED.last_read_page_uri,
			updated_at=NOW()`,
		m.FeedURI, m.LastReadEntryID, m.LastReadPageURI,
	)
	if err != nil {
		return fmt.Errorf("save marker %s: %w", m.FeedURI, err)
	}
	return nil
}

type failedEventStorePG struct {
	pool *pgxpool.Pool
}

// NewFailedEventStore returns a FailedEventStore backed by the failed_event table.
func NewFailedEventStore(pool *pgxpool.Pool) FailedEventStore {
	return &failedEventStorePG{pool: pool}
}

const failedCols = `id, feed_uri, event_id, title, content, error_message, retries, failed_at`

func (s *failedEventStorePG) Add(ctx context.Context, ev *FailedEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO failed_event (id, feed_uri, event_id, title, content, error_message, retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING failed_at`,
		ev.ID, ev.FeedURI, ev.EventID, ev.Title, ev.Content, ev.ErrorMessage, ev.Retries,
	).Scan(&ev.FailedAt)
}

func (s *failedEventStorePG) Get(ctx context.Context, id uuid.UUID) (*FailedEvent, error) {
	ev, err := scanFailed(s.pool.QueryRow(ctx, `SELECT `+failedCols+` FROM failed_event WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (s *failedEventStorePG) List(ctx context.Context, limit, offset int) ([]*FailedEvent, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM failed_event`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+failedCols+` FROM failed_event
		ORDER BY failed_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	events, err := collectFailed(rows)
	return events, total, err
}

func (s *failedEventStorePG) ListRetryable(ctx context.Context, feedURI string, maxRetries, limit int) ([]*FailedEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+failedCols+` FROM failed_event
		WHERE feed_uri = $1 AND retries < $2
		ORDER BY failed_at, id LIMIT $3`, feedURI, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	return collectFailed(rows)
}

func (s *failedEventStorePG) Update(ctx context.Context, ev *FailedEvent) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE failed_event SET error_message=$2, retries=$3 WHERE id=$1`,
		ev.ID, ev.ErrorMessage, ev.Retries,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *failedEventStorePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failed_event WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFailed(row pgx.Row) (*FailedEvent, error) {
	var ev FailedEvent
	err := row.Scan(&ev.ID, &ev.FeedURI, &ev.EventID, &ev.Title, &ev.Content, &ev.ErrorMessage, &ev.Retries, &ev.FailedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func collectFailed(rows pgx.Rows) ([]*FailedEvent, error) {
	defer rows.Close()
	var out []*FailedEvent
	for rows.Next() {
		ev, err := scanFailed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
