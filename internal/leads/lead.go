// Package leads turns inbound form and webhook payloads into CRM leads,
// deduplicated per tenant by a stable identifier.
package leads

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// StatusNew is the status of a freshly ingested lead.
const StatusNew = "new"

var (
	// ErrNoContact is returned when a payload has neither phone nor email.
	ErrNoContact = errors.New("lead has no phone or email")
	// ErrInvalidPhone is returned for numbers that cannot be normalized.
	ErrInvalidPhone = errors.New("invalid phone number")
)

// UTM holds campaign attribution.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// Lead is a CRM contact scoped to a tenant.
type Lead struct {
	LeadID    string            `json:"lead_id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Source    string            `json:"source"`
	UTM       UTM               `json:"utm"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DeriveID returns hex(sha256(tenant|phone)), or hex(sha256(tenant|email))
// when phone is empty. phone must already be normalized.
func DeriveID(tenantID, phone, email string) (string, error) {
	key := phone
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(email))
	}
	if key == "" {
		return "", ErrNoContact
	}
	sum := sha256.Sum256([]byte(tenantID + "|" + key))
	return hex.EncodeToString(sum[:]), nil
}
