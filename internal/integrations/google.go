package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/entitlement"
	"github.com/botzfyi/botz/internal/errs"
)

const (
	stateTTL    = 10 * time.Minute
	stateIssuer = "botz-oauth-state"

	// CallbackPath is where Google redirects after consent.
	CallbackPath = "/api/integrations/google/callback"

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// GoogleScopes lets a connected account send mail and identify itself.
var GoogleScopes = []string{
	"openid",
	"email",
	"https://www.googleapis.com/auth/gmail.send",
}

// GoogleOAuthConfig returns the OAuth client for Google accounts.
func GoogleOAuthConfig(clientID, clientSecret, publicURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Google,
		RedirectURL:  strings.TrimRight(publicURL, "/") + CallbackPath,
		Scopes:       GoogleScopes,
	}
}

// PlanSource reports the entitlement of a user.
type PlanSource interface {
	Get(ctx context.Context, userID string) (*entitlement.Entitlement, error)
}

type stateClaims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Connector runs the Google consent flow.
type Connector struct {
	oauth       *oauth2.Config
	store       Store
	plans       PlanSource
	stateSecret []byte
	userInfoURL string
	now         func() time.Time
}

func NewConnector(oauth *oauth2.Config, store Store, plans PlanSource, stateSecret string) *Connector {
	return &Connector{
		oauth:       oauth,
		store:       store,
		plans:       plans,
		stateSecret: []byte(stateSecret),
		userInfoURL: googleUserInfoURL,
		now:         time.Now,
	}
}

// Configured reports whether a Google client is set up.
func (c *Connector) Configured() bool {
	return c != nil && c.oauth != nil && c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

// Start returns the consent URL for userID. The state parameter is a
// short-lived signed token binding the callback to the user.
func (c *Connector) Start(ctx context.Context, userID, tenantID string) (string, error) {
	if !c.Configured() {
		return "", errs.New(errs.InvalidInput, "google integration is not configured")
	}
	if err := c.checkChannelLimit(ctx, userID); err != nil {
		return "", err
	}

	now := c.now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}).SignedString(c.stateSecret)
	if err != nil {
		return "", errs.InternalError(err)
	}

	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Callback validates state, exchanges code and stores the integration.
func (c *Connector) Callback(ctx context.Context, state, code string) (*Integration, error) {
	if !c.Configured() {
		return nil, errs.New(errs.InvalidInput, "google integration is not configured")
	}
	if code == "" {
		return nil, errs.New(errs.InvalidInput, "missing authorization code")
	}

	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return c.stateSecret, nil
	}, jwt.WithIssuer(stateIssuer), jwt.WithTimeFunc(c.now))
	if err != nil || claims.UserID == "" {
		return nil, errs.New(errs.Unauthorized, "invalid or expired state")
	}

	if err := c.checkChannelLimit(ctx, claims.UserID); err != nil {
		return nil, err
	}

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Google code exchange failed")
		return nil, errs.Wrap(errs.Unauthorized, "code exchange failed", err)
	}

	email, err := c.accountEmail(ctx, tok)
	if err != nil {
		log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Failed to read Google account email")
	}

	in, err := c.store.Upsert(ctx, &Integration{
		TenantID:     claims.TenantID,
		UserID:       claims.UserID,
		ChannelType:  ChannelTypeEmail,
		Provider:     ProviderGoogle,
		Status:       StatusConnected,
		AccountEmail: email,
		Credentials: Credentials{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
			Expiry:       tok.Expiry,
		},
	})
	if err != nil {
		return nil, errs.InternalError(err)
	}
	log.Info().Str("user_id", in.UserID).Str("integration_id", in.ID).Msg("Google account connected")
	return in, nil
}

// checkChannelLimit rejects a new connection once the user's plan has no
// channel left. Reconnecting an existing Google account is always allowed.
func (c *Connector) checkChannelLimit(ctx context.Context, userID string) error {
	existing, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		return errs.InternalError(err)
	}
	for _, in := range existing {
		if in.ChannelType == ChannelTypeEmail && in.Provider == ProviderGoogle {
			return nil
		}
	}

	limits := entitlement.Limits(entitlement.DefaultPlan)
	if c.plans != nil {
		e, err := c.plans.Get(ctx, userID)
		switch {
		case err == nil:
			limits = e.Limits()
		case !errors.Is(err, database.ErrNotFound):
			return errs.InternalError(err)
		}
	}

	if len(existing) >= limits.MaxChannels {
		return errs.Wrap(errs.InvalidInput, fmt.Sprintf("plan allows %d channels", limits.MaxChannels), ErrChannelLimit)
	}
	return nil
}

func (c *Connector) accountEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&info); err != nil {
		return "", err
	}
	return info.Email, nil
}
