package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/botzfyi/botz/internal/database"
)

type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert ignores events whose id is already stored, so replays are safe.
func (s *SQLStore) Insert(ctx context.Context, e *Event) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, user_id, product_key, endpoint, action, credits_delta, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.UserID, e.ProductKey, e.Endpoint, e.Action, e.CreditsDelta, string(metadata), e.CreatedAt.UnixMilli())
	return err
}

func (s *SQLStore) List(ctx context.Context, userID, productKey string, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, product_key, endpoint, action, credits_delta, metadata, created_at
		FROM usage_events
		WHERE user_id = ? AND product_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, productKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			e         Event
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProductKey, &e.Endpoint, &e.Action, &e.CreditsDelta, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil || e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Summary sums credits over the last 24 hours and 7 days. TopEndpoint is
// the endpoint with the most credits over all time, "-" when there is none.
func (s *SQLStore) Summary(ctx context.Context, userID, productKey string, now time.Time) (Summary, error) {
	var sum Summary
	dayAgo := now.Add(-24 * time.Hour).UnixMilli()
	weekAgo := now.Add(-7 * 24 * time.Hour).UnixMilli()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			CAST(COALESCE(SUM(CASE WHEN created_at >= ? THEN credits_delta ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN created_at >= ? THEN credits_delta ELSE 0 END), 0) AS BIGINT)
		FROM usage_events
		WHERE user_id = ? AND product_key = ?
	`, dayAgo, weekAgo, userID, productKey).Scan(&sum.Today, &sum.SevenDays)
	if err != nil {
		return sum, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT endpoint
		FROM usage_events
		WHERE user_id = ? AND product_key = ?
		GROUP BY endpoint
		ORDER BY SUM(credits_delta) DESC, endpoint ASC
		LIMIT 1
	`, userID, productKey).Scan(&sum.TopEndpoint)
	if errors.Is(err, sql.ErrNoRows) {
		sum.TopEndpoint = "-"
		err = nil
	}
	return sum, err
}
