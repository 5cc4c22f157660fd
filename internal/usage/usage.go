// Package usage keeps the append-only log of credit-consuming calls.
package usage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/metrics"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Event is one usage record. Events are never mutated.
type Event struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ProductKey   string         `json:"product_key"`
	Endpoint     string         `json:"endpoint"`
	Action       string         `json:"action"`
	CreditsDelta int64          `json:"credits_delta"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Input is what callers supply; the rest is filled in by Record.
type Input struct {
	UserID       string
	ProductKey   string
	Endpoint     string
	Action       string
	CreditsDelta int64
	Metadata     map[string]any
}

// Summary aggregates credits over rolling windows.
type Summary struct {
	Today       int64  `json:"today"`
	SevenDays   int64  `json:"seven_days"`
	TopEndpoint string `json:"top_endpoint"`
}

type Store interface {
	Insert(ctx context.Context, e *Event) error
	List(ctx context.Context, userID, productKey string, limit int) ([]*Event, error)
	Summary(ctx context.Context, userID, productKey string, now time.Time) (Summary, error)
}

// Recorder writes events to the primary store and falls back to a local
// spool when the store rejects the write.
type Recorder struct {
	store Store
	spool *Spool
	now   func() time.Time
}

func NewRecorder(store Store, spool *Spool) *Recorder {
	return &Recorder{store: store, spool: spool, now: time.Now}
}

// Record appends one event. An error means neither the store nor the spool
// accepted it.
func (r *Recorder) Record(ctx context.Context, in Input) (*Event, error) {
	e := &Event{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		ProductKey:   in.ProductKey,
		Endpoint:     strings.TrimSpace(in.Endpoint),
		Action:       strings.TrimSpace(in.Action),
		CreditsDelta: max(in.CreditsDelta, 0),
		Metadata:     in.Metadata,
		CreatedAt:    r.now().UTC(),
	}
	if e.Endpoint == "" {
		e.Endpoint = "unknown"
	}
	if e.Action == "" {
		e.Action = "usage"
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	err := r.store.Insert(ctx, e)
	if err == nil {
		return e, nil
	}
	if r.spool == nil {
		return nil, fmt.Errorf("failed to record usage event: %w", err)
	}

	metrics.UsageLogFallbacks.Inc()
	log.Warn().Err(err).Str("user_id", e.UserID).Str("event_id", e.ID).Msg("Usage store write failed, spooling event")
	if spoolErr := r.spool.Append(e); spoolErr != nil {
		return nil, fmt.Errorf("failed to spool usage event: %w (store: %v)", spoolErr, err)
	}
	return e, nil
}

// List returns the newest events of a user.
func (r *Recorder) List(ctx context.Context, userID, productKey string, limit int) ([]*Event, error) {
	return r.store.List(ctx, userID, productKey, ClampLimit(limit))
}

func (r *Recorder) Summary(ctx context.Context, userID, productKey string) (Summary, error) {
	return r.store.Summary(ctx, userID, productKey, r.now())
}

// Replay moves spooled events into the store.
func (r *Recorder) Replay(ctx context.Context) (int, error) {
	if r.spool == nil {
		return 0, nil
	}
	return r.spool.Drain(func(e *Event) error {
		return r.store.Insert(ctx, e)
	})
}

// ClampLimit bounds a page size to [1, MaxLimit]; zero selects DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// ParseLimit reads a limit query parameter. Garbage selects DefaultLimit.
func ParseLimit(raw string) int {
	if raw == "" {
		return DefaultLimit
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultLimit
	}
	if f > MaxLimit {
		return MaxLimit
	}
	return ClampLimit(int(f))
}
