package usage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botzfyi/botz/internal/database"
)

type failingStore struct {
	Store
	err error
}

func (f *failingStore) Insert(context.Context, *Event) error {
	return f.err
}

func TestRecordDefaults(t *testing.T) {
	db := database.OpenTest(t)
	r := NewRecorder(NewSQLStore(db), nil)
	ctx := context.Background()

	e, err := r.Record(ctx, Input{UserID: "u1", ProductKey: "agents", CreditsDelta: -4})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "unknown", e.Endpoint)
	assert.Equal(t, "usage", e.Action)
	assert.Equal(t, int64(0), e.CreditsDelta)

	events, err := r.List(ctx, "u1", "agents", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)
	assert.Equal(t, map[string]any{}, events[0].Metadata)
}

func TestListNewestFirstAndScoped(t *testing.T) {
	db := database.OpenTest(t)
	store := NewSQLStore(db)
	r := NewRecorder(store, nil)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		r.now = func() time.Time { return at }
		_, err := r.Record(ctx, Input{UserID: "u1", ProductKey: "agents", Endpoint: "chat", CreditsDelta: int64(i), Metadata: map[string]any{"i": i}})
		require.NoError(t, err)
	}
	_, err := r.Record(ctx, Input{UserID: "u2", ProductKey: "agents", Endpoint: "chat", CreditsDelta: 1})
	require.NoError(t, err)

	events, err := r.List(ctx, "u1", "agents", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(4), events[0].CreditsDelta)
	assert.Equal(t, float64(4), events[0].Metadata["i"])
	assert.Equal(t, int64(2), events[2].CreditsDelta)

	events, err = r.List(ctx, "u1", "other", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSummary(t *testing.T) {
	db := database.OpenTest(t)
	store := NewSQLStore(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	sum, err := store.Summary(ctx, "u1", "agents", now)
	require.NoError(t, err)
	assert.Equal(t, Summary{TopEndpoint: "-"}, sum)

	insert := func(endpoint string, delta int64, ago time.Duration) {
		require.NoError(t, store.Insert(ctx, &Event{
			ID: endpoint + ago.String(), UserID: "u1", ProductKey: "agents",
			Endpoint: endpoint, Action: "usage", CreditsDelta: delta, CreatedAt: now.Add(-ago),
		}))
	}
	insert("chat", 5, time.Hour)
	insert("search", 3, 2*time.Hour)
	insert("search", 4, 3*24*time.Hour)
	insert("chat", 10, 30*24*time.Hour)

	sum, err = store.Summary(ctx, "u1", "agents", now)
	require.NoError(t, err)
	assert.Equal(t, int64(8), sum.Today)
	assert.Equal(t, int64(12), sum.SevenDays)
	assert.Equal(t, "chat", sum.TopEndpoint)
}

func TestRecordFallsBackToSpool(t *testing.T) {
	db := database.OpenTest(t)
	sqlStore := NewSQLStore(db)
	spool, err := NewSpool(t.TempDir())
	require.NoError(t, err)

	broken := &failingStore{Store: sqlStore, err: errors.New("connection refused")}
	r := NewRecorder(broken, spool)
	ctx := context.Background()

	e, err := r.Record(ctx, Input{UserID: "u1", ProductKey: "agents", Endpoint: "chat", CreditsDelta: 2})
	require.NoError(t, err)
	_, err = os.Stat(spool.Path())
	require.NoError(t, err)

	n, err := r.Replay(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	r.store = sqlStore
	n, err = r.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(spool.Path())
	assert.True(t, os.IsNotExist(err))

	events, err := r.List(ctx, "u1", "agents", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)

	n, err = r.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReplayIsIdempotent(t *testing.T) {
	db := database.OpenTest(t)
	store := NewSQLStore(db)
	spool, err := NewSpool(t.TempDir())
	require.NoError(t, err)

	e := &Event{ID: "evt-1", UserID: "u1", ProductKey: "agents", Endpoint: "chat", Action: "usage", CreditsDelta: 1, CreatedAt: time.Now()}
	require.NoError(t, store.Insert(context.Background(), e))
	require.NoError(t, spool.Append(e))

	n, err := NewRecorder(store, spool).Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := store.List(context.Background(), "u1", "agents", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordWithoutSpoolReturnsError(t *testing.T) {
	r := NewRecorder(&failingStore{err: errors.New("down")}, nil)
	_, err := r.Record(context.Background(), Input{UserID: "u1"})
	assert.Error(t, err)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"0", 20},
		{"-3", 1},
		{"1", 1},
		{"50", 50},
		{"100", 100},
		{"5000", 100},
		{"1e30", 100},
		{"7.9", 7},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLimit(tt.raw))
		})
	}
}
