package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/settings"
)

type tokenServer struct {
	*httptest.Server
	calls        atomic.Int32
	fail         atomic.Bool
	refreshToken string
	lastForm     url.Values
	mu           sync.Mutex
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			ts.calls.Add(1)
			_ = r.ParseForm()
			ts.mu.Lock()
			ts.lastForm = r.PostForm
			ts.mu.Unlock()
			time.Sleep(50 * time.Millisecond)

			w.Header().Set("Content-Type", "application/json")
			if ts.fail.Load() {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			body := map[string]any{"access_token": "fresh-token", "token_type": "Bearer", "expires_in": 3600}
			if ts.refreshToken != "" {
				body["refresh_token"] = ts.refreshToken
			}
			json.NewEncoder(w).Encode(body)
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"email":"owner@example.com"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: "https://app.example.com" + CallbackPath,
		Scopes:      GoogleScopes,
	}
}

func newTestStore(t *testing.T) (*SQLStore, *database.DB) {
	t.Helper()
	db := database.OpenTest(t)
	c, err := settings.NewCipher("test-secret")
	require.NoError(t, err)
	return NewSQLStore(db, c), db
}

func seed(t *testing.T, store *SQLStore, creds Credentials) *Integration {
	t.Helper()
	in, err := store.Upsert(context.Background(), &Integration{
		TenantID: "t1", UserID: "u1", ChannelType: ChannelTypeEmail, Provider: ProviderGoogle,
		Credentials: creds,
	})
	require.NoError(t, err)
	return in
}

func TestCredentialsAreSealedAtRest(t *testing.T) {
	store, db := newTestStore(t)
	in := seed(t, store, Credentials{AccessToken: "plain-access", RefreshToken: "plain-refresh"})

	var raw string
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT credentials FROM integrations WHERE id = ?", in.ID).Scan(&raw))
	assert.True(t, settings.IsSealed(raw))
	assert.NotContains(t, raw, "plain-refresh")

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain-refresh", got.Credentials.RefreshToken)

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "plain")
}

func TestUpsertReplacesSameChannel(t *testing.T) {
	store, _ := newTestStore(t)
	first := seed(t, store, Credentials{RefreshToken: "r1"})
	second := seed(t, store, Credentials{RefreshToken: "r2"})

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "r2", second.Credentials.RefreshToken)

	list, err := store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAccessTokenReturnsCachedToken(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{AccessToken: "cached", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})

	tok, err := NewRefresher(store, ts.config()).AccessToken(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Zero(t, ts.calls.Load())
}

func TestAccessTokenRefreshesWithinSkew(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{AccessToken: "stale", RefreshToken: "r-keep", Expiry: time.Now().Add(30 * time.Second)})

	tok, err := NewRefresher(store, ts.config()).AccessToken(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, int32(1), ts.calls.Load())
	assert.Equal(t, "refresh_token", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "r-keep", ts.lastForm.Get("refresh_token"))

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got.Credentials.AccessToken)
	assert.Equal(t, "r-keep", got.Credentials.RefreshToken, "refresh token kept when the provider omits it")
	assert.Equal(t, StatusConnected, got.Status)
	assert.True(t, got.Credentials.Expiry.After(time.Now().Add(50*time.Minute)))
}

func TestAccessTokenStoresRotatedRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	ts.refreshToken = "r-new"
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{RefreshToken: "r-old"})

	_, err := NewRefresher(store, ts.config()).AccessToken(context.Background(), in.ID)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "r-new", got.Credentials.RefreshToken)
}

func TestAccessTokenWithoutRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)})

	_, err := NewRefresher(store, ts.config()).AccessToken(context.Background(), in.ID)
	e := errs.From(err)
	assert.Equal(t, errs.InvalidInput, e.Code)
	assert.Equal(t, "no_refresh_token", e.Message)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, ts.calls.Load())
}

func TestAccessTokenRefreshFailureMarksError(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail.Store(true)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{RefreshToken: "revoked"})

	_, err := NewRefresher(store, ts.config()).AccessToken(context.Background(), in.ID)
	e := errs.From(err)
	assert.Equal(t, errs.Unauthorized, e.Code)
	assert.Equal(t, "token_refresh_failed", e.Message)

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
}

func TestAccessTokenUnknownIntegration(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := NewRefresher(store, &oauth2.Config{}).AccessToken(context.Background(), "missing")
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestAccessTokenCoalescesConcurrentRefreshes(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{RefreshToken: "r"})
	r := NewRefresher(store, ts.config())

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := r.AccessToken(context.Background(), in.ID)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ts.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "fresh-token", tok)
	}
}

func TestAccessTokenSurvivesFirstCallerCancel(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{RefreshToken: "r"})
	r := NewRefresher(store, ts.config())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = r.AccessToken(ctx, in.ID)
	}()
	time.Sleep(5 * time.Millisecond)

	tok, err := r.AccessToken(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)

	wg.Wait()
	assert.Equal(t, errs.Internal, errs.CodeOf(firstErr))
	assert.Equal(t, int32(1), ts.calls.Load())

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	assert.Equal(t, "fresh-token", got.Credentials.AccessToken)
}

func TestAccessTokenRefreshTimeoutKeepsStatus(t *testing.T) {
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	in := seed(t, store, Credentials{RefreshToken: "r"})
	r := NewRefresher(store, ts.config())
	r.timeout = 10 * time.Millisecond

	_, err := r.AccessToken(context.Background(), in.ID)
	assert.Equal(t, errs.Internal, errs.CodeOf(err))

	got, err := store.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.NotEqual(t, StatusError, got.Status)
}

type fixedPlan string

func (p fixedPlan) Get(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	if p == "" {
		return nil, database.ErrNotFound
	}
	return &entitlement.Entitlement{UserID: userID, PlanKey: string(p)}, nil
}

func newTestConnector(t *testing.T, plan fixedPlan) (*Connector, *SQLStore, *tokenServer) {
	t.Helper()
	ts := newTokenServer(t)
	store, _ := newTestStore(t)
	c := NewConnector(ts.config(), store, plan, "state-secret")
	c.userInfoURL = ts.URL + "/userinfo"
	return c, store, ts
}

func TestGoogleConnectFlow(t *testing.T) {
	c, store, ts := newTestConnector(t, "")
	ctx := context.Background()

	authURL, err := c.Start(ctx, "u1", "t1")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "consent", u.Query().Get("prompt"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	in, err := c.Callback(ctx, state, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "u1", in.UserID)
	assert.Equal(t, "t1", in.TenantID)
	assert.Equal(t, "owner@example.com", in.AccountEmail)
	assert.Equal(t, StatusConnected, in.Status)
	assert.Equal(t, "authorization_code", ts.lastForm.Get("grant_type"))

	got, err := store.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got.Credentials.AccessToken)
}

func TestGoogleCallbackRejectsBadState(t *testing.T) {
	c, _, ts := newTestConnector(t, "")
	ctx := context.Background()

	_, err := c.Callback(ctx, "not-a-token", "code")
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))

	authURL, err := c.Start(ctx, "u1", "t1")
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = c.Callback(ctx, state, "code")
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err), "expired state")

	other := NewConnector(ts.config(), c.store, nil, "different-secret")
	_, err = other.Callback(ctx, state, "code")
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))
	assert.Zero(t, ts.calls.Load())
}

func TestGoogleConnectEnforcesChannelLimit(t *testing.T) {
	c, store, _ := newTestConnector(t, entitlement.PlanPro)
	ctx := context.Background()

	for _, provider := range []string{"meta", "smtp"} {
		_, err := store.Upsert(ctx, &Integration{TenantID: "t1", UserID: "u1", ChannelType: "whatsapp", Provider: provider})
		require.NoError(t, err)
	}

	_, err := c.Start(ctx, "u1", "t1")
	assert.Equal(t, errs.InvalidInput, errs.CodeOf(err))
	assert.ErrorIs(t, err, ErrChannelLimit)

	scale := NewConnector(c.oauth, store, fixedPlan(entitlement.PlanScale), "state-secret")
	_, err = scale.Start(ctx, "u1", "t1")
	assert.NoError(t, err)

	seed(t, store, Credentials{RefreshToken: "r"})
	_, err = c.Start(ctx, "u1", "t1")
	assert.NoError(t, err, "reconnecting an existing account is allowed")
}

func TestGoogleOAuthConfig(t *testing.T) {
	cfg := GoogleOAuthConfig("id", "secret", "https://botz.example.com/")
	assert.Equal(t, "https://botz.example.com/api/integrations/google/callback", cfg.RedirectURL)
	assert.True(t, strings.HasPrefix(cfg.Endpoint.TokenURL, "https://oauth2.googleapis.com"))
}
