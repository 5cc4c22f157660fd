package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/metrics"
)

const (
	// ExpirySkew is how long before expiry a stored token is refreshed.
	ExpirySkew = 60 * time.Second
	// RefreshTimeout bounds one shared refresh, independent of any caller.
	RefreshTimeout = 15 * time.Second
)

// Refresher returns valid access tokens, refreshing them when needed.
type Refresher struct {
	store Store
	oauth *oauth2.Config
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
}

func NewRefresher(store Store, oauth *oauth2.Config) *Refresher {
	return &Refresher{store: store, oauth: oauth, timeout: RefreshTimeout, now: time.Now}
}

// AccessToken returns a token for integrationID valid for at least
// ExpirySkew. Concurrent calls for the same integration share one refresh;
// a caller that gives up does not cancel it for the others.
func (r *Refresher) AccessToken(ctx context.Context, integrationID string) (string, error) {
	ch := r.group.DoChan(integrationID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.accessToken(shared, integrationID)
	})

	select {
	case <-ctx.Done():
		return "", errs.InternalError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Refresher) accessToken(ctx context.Context, integrationID string) (string, error) {
	in, err := r.store.Get(ctx, integrationID)
	if errors.Is(err, database.ErrNotFound) {
		return "", errs.New(errs.NotFound, "integration not found")
	}
	if err != nil {
		return "", errs.InternalError(err)
	}

	creds := in.Credentials
	if creds.AccessToken != "" && creds.Expiry.After(r.now().Add(ExpirySkew)) {
		metrics.TokenRefreshes.WithLabelValues(in.Provider, "cached").Inc()
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues(in.Provider, "no_refresh_token").Inc()
		return "", errs.Wrap(errs.InvalidInput, "no_refresh_token", ErrNoRefreshToken)
	}

	// An empty access token forces the source to refresh.
	src := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		metrics.TokenRefreshes.WithLabelValues(in.Provider, "timeout").Inc()
		return "", errs.InternalError(fmt.Errorf("refresh token: %w", err))
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(in.Provider, "failed").Inc()
		log.Warn().Err(err).Str("integration_id", in.ID).Str("provider", in.Provider).Msg("Token refresh failed")
		if statusErr := r.store.SetStatus(ctx, in.ID, StatusError); statusErr != nil {
			log.Error().Err(statusErr).Str("integration_id", in.ID).Msg("Failed to mark integration as errored")
		}
		return "", errs.Wrap(errs.Unauthorized, "token_refresh_failed", err)
	}

	next := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	if err := r.store.UpdateCredentials(ctx, in.ID, next, StatusConnected); err != nil {
		return "", errs.InternalError(fmt.Errorf("persist refreshed token: %w", err))
	}

	metrics.TokenRefreshes.WithLabelValues(in.Provider, "refreshed").Inc()
	log.Info().Str("integration_id", in.ID).Time("expiry", next.Expiry).Msg("Access token refreshed")
	return next.AccessToken, nil
}
