// Package integrations stores connected provider accounts and keeps their
// OAuth access tokens fresh.
package integrations

import (
	"errors"
	"time"
)

const (
	StatusConnected    = "connected"
	StatusError        = "error"
	StatusDisconnected = "disconnected"
)

const (
	ProviderGoogle   = "google"
	ChannelTypeEmail = "email"
)

var (
	// ErrNoRefreshToken is returned when a token expired and cannot be renewed.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrChannelLimit is returned when a plan allows no further channels.
	ErrChannelLimit = errors.New("channel limit reached")
)

// Credentials are the OAuth tokens of an integration. They are encrypted at
// rest and never serialized to clients.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Integration is a provider account connected by a user.
type Integration struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	UserID       string      `json:"user_id"`
	ChannelType  string      `json:"channel_type"`
	Provider     string      `json:"provider"`
	Status       string      `json:"status"`
	AccountEmail string      `json:"account_email,omitempty"`
	Credentials  Credentials `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
