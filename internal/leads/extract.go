package leads

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// Payload holds the contact fields found in an inbound body.
type Payload struct {
	Name   string            `json:"name,omitempty"`
	Email  string            `json:"email,omitempty"`
	Phone  string            `json:"phone,omitempty"`
	Source string            `json:"source,omitempty"`
	Status string            `json:"status,omitempty"`
	UTM    UTM               `json:"utm"`
	Extra  map[string]string `json:"extra,omitempty"`
}

const (
	maxExtraFields = 32
	maxFieldLength = 1000
)

var (
	nameKeys     = []string{"name", "full_name", "fullname", "nombre", "nombre_completo", "contact_name"}
	firstKeys    = []string{"first_name", "firstname", "nombres"}
	lastKeys     = []string{"last_name", "lastname", "apellido", "apellidos"}
	emailKeys    = []string{"email", "e_mail", "email_address", "correo", "correo_electronico"}
	phoneKeys    = []string{"phone", "phone_number", "telefono", "tel", "celular", "mobile", "whatsapp", "wa_id"}
	sourceKeys   = []string{"source", "origen", "lead_source", "channel"}
	statusKeys   = []string{"status", "estado"}
	utmSource    = []string{"utm_source"}
	utmMedium    = []string{"utm_medium"}
	utmCampaign  = []string{"utm_campaign", "campaign", "campaign_name", "campana"}
	utmTerm      = []string{"utm_term"}
	utmContent   = []string{"utm_content", "ad_name"}
	consumedKeys = [][]string{
		nameKeys, firstKeys, lastKeys, emailKeys, phoneKeys, sourceKeys, statusKeys,
		utmSource, utmMedium, utmCampaign, utmTerm, utmContent,
	}
)

// ParsePayload extracts a Payload from a form-encoded or JSON body. Unknown
// content types are tried as JSON, then as a form.
func ParsePayload(contentType string, body []byte) (Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Payload{}, fmt.Errorf("empty body")
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		return parseForm(body)
	case "application/json":
		return parseJSON(body)
	}

	if body[0] == '{' {
		return parseJSON(body)
	}
	return parseForm(body)
}

func parseForm(body []byte) (Payload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Payload{}, fmt.Errorf("parse form: %w", err)
	}
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			put(fields, k, v[0])
		}
	}
	return FromFields(fields), nil
}

func parseJSON(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return Payload{}, fmt.Errorf("parse json: %w", err)
	}

	fields := make(map[string]string)
	flatten(fields, root)
	// Common envelopes nest the lead one level down.
	for _, key := range []string{"lead", "data", "contact", "fields"} {
		if nested, ok := root[key].(map[string]any); ok {
			flatten(fields, nested)
		}
	}
	// Meta lead ads: "field_data": [{"name": "email", "values": ["a@b.c"]}]
	for _, key := range []string{"field_data", "fields", "answers"} {
		if list, ok := root[key].([]any); ok {
			flattenNamedList(fields, list)
		}
	}
	return FromFields(fields), nil
}

func flatten(fields map[string]string, m map[string]any) {
	for k, v := range m {
		if s, ok := scalar(v); ok {
			put(fields, k, s)
		}
	}
}

func flattenNamedList(fields map[string]string, list []any) {
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := scalar(m["name"])
		if name == "" {
			name, _ = scalar(m["key"])
		}
		if name == "" {
			continue
		}
		if s, ok := scalar(m["value"]); ok {
			put(fields, name, s)
			continue
		}
		if values, ok := m["values"].([]any); ok && len(values) > 0 {
			if s, ok := scalar(values[0]); ok {
				put(fields, name, s)
			}
		}
	}
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

// put stores v under the normalized key unless a non-empty value is there.
func put(fields map[string]string, k, v string) {
	k = normalizeKey(k)
	v = strings.TrimSpace(v)
	if k == "" || v == "" {
		return
	}
	if utf8.RuneCountInString(v) > maxFieldLength {
		v = string([]rune(v)[:maxFieldLength])
	}
	if _, exists := fields[k]; !exists {
		fields[k] = v
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(k)
}

// FromFields builds a Payload from flat, already-normalized fields.
func FromFields(fields map[string]string) Payload {
	p := Payload{
		Name:   first(fields, nameKeys),
		Email:  strings.ToLower(first(fields, emailKeys)),
		Phone:  first(fields, phoneKeys),
		Source: strings.ToLower(first(fields, sourceKeys)),
		Status: first(fields, statusKeys),
		UTM: UTM{
			Source:   first(fields, utmSource),
			Medium:   first(fields, utmMedium),
			Campaign: first(fields, utmCampaign),
			Term:     first(fields, utmTerm),
			Content:  first(fields, utmContent),
		},
	}
	if p.Name == "" {
		p.Name = strings.TrimSpace(first(fields, firstKeys) + " " + first(fields, lastKeys))
	}
	if !strings.Contains(p.Email, "@") {
		p.Email = ""
	}

	consumed := make(map[string]bool)
	for _, keys := range consumedKeys {
		for _, k := range keys {
			consumed[k] = true
		}
	}
	var extra []string
	for k := range fields {
		if !consumed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for i, k := range extra {
		if i == maxExtraFields {
			break
		}
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		p.Extra[k] = fields[k]
	}
	return p
}

func first(fields map[string]string, keys []string) string {
	for _, k := range keys {
		if v := fields[k]; v != "" {
			return v
		}
	}
	return ""
}
