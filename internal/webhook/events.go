package webhook

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/botzfyi/botz/internal/database"
)

// EventLog remembers provider event ids that were handled successfully, so
// redelivered events are acknowledged without being applied twice.
type EventLog struct {
	db  *database.DB
	now func() time.Time
}

func NewEventLog(db *database.DB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

// Processed reports whether id was already marked.
func (l *EventLog) Processed(ctx context.Context, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM processed_webhook_events WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkProcessed records id. Marking twice is not an error.
func (l *EventLog) MarkProcessed(ctx context.Context, id, provider, eventType string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (id, provider, event_type, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id, provider, eventType, l.now().UnixMilli())
	return err
}
