package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/botzfyi/botz/internal/leads"
)

// Notification is the body of a WhatsApp Cloud API webhook.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Referral *struct {
		SourceURL  string `json:"source_url"`
		SourceType string `json:"source_type"`
		Headline   string `json:"headline"`
	} `json:"referral,omitempty"`
}

// InboundLead is one lead derived from an inbound message.
type InboundLead struct {
	MessageID string
	Payload   leads.Payload
}

// ParseNotification decodes body. Call it only after the signature has been
// verified.
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("invalid whatsapp notification: %w", err)
	}
	return &n, nil
}

// Leads turns every inbound message into a lead payload. Status updates
// and other change fields are skipped.
func (n *Notification) Leads() []InboundLead {
	var out []InboundLead
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.From == "" {
					continue
				}
				// wa_id is always a full international number.
				p := leads.Payload{
					Name:   names[m.From],
					Phone:  "+" + strings.TrimPrefix(m.From, "+"),
					Source: "whatsapp",
					Extra:  map[string]string{"wa_message_id": m.ID},
				}
				if m.Text != nil && m.Text.Body != "" {
					p.Extra["last_message"] = truncate(m.Text.Body, 500)
				}
				if m.Referral != nil {
					p.Extra["referral_url"] = m.Referral.SourceURL
					p.UTM.Content = m.Referral.Headline
					if m.Referral.SourceType == "ad" {
						p.UTM.Medium = "ad"
					}
				}
				out = append(out, InboundLead{MessageID: m.ID, Payload: p})
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
