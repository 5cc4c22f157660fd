package leads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/errs"
)

type recordingNotifier struct {
	mu    sync.Mutex
	leads []*Lead
	done  chan struct{}
}

func (n *recordingNotifier) NotifyLead(_ context.Context, l *Lead) error {
	n.mu.Lock()
	n.leads = append(n.leads, l)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *database.DB) {
	t.Helper()
	db := database.OpenTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewSQLStore(db), Options{
		DefaultCountryCode: "57",
		Notifier:           notifier,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})
	return svc, db
}

func countLeads(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM leads").Scan(&n))
	return n
}

func TestIngestIsIdempotentPerTenantAndPhone(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	first, created, err := svc.Ingest(ctx, "tenant-a", Payload{Name: "Ana", Phone: "300 123 4567", Source: "webhook"}, Request{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+573001234567", first.Phone)
	assert.Equal(t, StatusNew, first.Status)

	second, created, err := svc.Ingest(ctx, "tenant-a", Payload{
		Name:  "Ana Gomez",
		Phone: "+57 300-123-4567",
		Email: "ana@example.com",
		UTM:   UTM{Campaign: "spring"},
	}, Request{})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, countLeads(t, db))
	assert.Equal(t, first.LeadID, second.LeadID)
	assert.Equal(t, "Ana Gomez", second.Name, "last write wins")
	assert.Equal(t, "ana@example.com", second.Email)
	assert.Equal(t, "webhook", second.Source, "empty incoming values keep the stored one")
	assert.Equal(t, "spring", second.UTM.Campaign)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	_, created, err = svc.Ingest(ctx, "tenant-b", Payload{Phone: "3001234567"}, Request{})
	require.NoError(t, err)
	assert.True(t, created, "tenants do not share leads")
	assert.Equal(t, 2, countLeads(t, db))
}

func TestIngestStatusOnlyChangesWhenProvided(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	l, _, err := svc.Ingest(ctx, "t", Payload{Email: "x@example.com", Status: "qualified"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "qualified", l.Status)

	l, _, err = svc.Ingest(ctx, "t", Payload{Email: "X@example.com", Name: "X"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "qualified", l.Status)
	assert.Equal(t, "X", l.Name)
}

func TestIngestValidation(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	_, _, err := svc.Ingest(ctx, "", Payload{Email: "a@b.co"}, Request{})
	assert.Equal(t, errs.InvalidInput, errs.CodeOf(err))

	_, _, err = svc.Ingest(ctx, "t", Payload{Name: "Nobody"}, Request{})
	assert.Equal(t, errs.InvalidInput, errs.CodeOf(err))

	_, _, err = svc.Ingest(ctx, "t", Payload{Phone: "123"}, Request{})
	assert.Equal(t, errs.InvalidInput, errs.CodeOf(err))

	l, _, err := svc.Ingest(ctx, "t", Payload{Phone: "123", Email: "a@b.co"}, Request{})
	require.NoError(t, err)
	assert.Empty(t, l.Phone)
	assert.Equal(t, "123", l.Metadata["phone_raw"])
	assert.Equal(t, 1, countLeads(t, db))
}

func TestIngestEnrichesFromRequest(t *testing.T) {
	svc, _ := newTestService(t, nil)

	l, _, err := svc.Ingest(context.Background(), "t", Payload{Email: "a@b.co"}, Request{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referrer:      "https://www.instagram.com/",
		DefaultSource: "form",
	})
	require.NoError(t, err)
	assert.Equal(t, "social", l.Source)
	assert.Equal(t, "desktop", l.Metadata["device"])
	assert.Equal(t, "www.instagram.com", l.Metadata["referrer_domain"])
}

func TestIngestNotifiesOnlyOnCreate(t *testing.T) {
	n := &recordingNotifier{done: make(chan struct{}, 4)}
	svc, _ := newTestService(t, n)
	ctx := context.Background()

	_, _, err := svc.Ingest(ctx, "t", Payload{Email: "a@b.co"}, Request{DefaultSource: "form"})
	require.NoError(t, err)
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	_, _, err = svc.Ingest(ctx, "t", Payload{Email: "a@b.co"}, Request{})
	require.NoError(t, err)
	select {
	case <-n.done:
		t.Fatal("notifier called for an update")
	case <-time.After(100 * time.Millisecond):
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.leads, 1)
	assert.Equal(t, "form", n.leads[0].Source)
}

type slowStore struct{ Store }

func (slowStore) Upsert(ctx context.Context, _ *Lead) (*Lead, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestIngestTimesOut(t *testing.T) {
	svc := NewService(slowStore{}, Options{Timeout: 20 * time.Millisecond})

	_, _, err := svc.Ingest(context.Background(), "t", Payload{Email: "a@b.co"}, Request{})
	assert.Equal(t, errs.Internal, errs.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListAndGet(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	a, _, err := svc.Ingest(ctx, "t", Payload{Email: "a@b.co"}, Request{})
	require.NoError(t, err)
	_, _, err = svc.Ingest(ctx, "t", Payload{Email: "c@d.co"}, Request{})
	require.NoError(t, err)

	list, err := svc.List(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c@d.co", list[0].Email)

	got, err := svc.Get(ctx, "t", a.LeadID)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", got.Email)

	_, err = svc.Get(ctx, "other", a.LeadID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
