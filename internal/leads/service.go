package leads

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/enrichment"
	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/metrics"
)

// DefaultTimeout bounds the store write of one ingestion.
const DefaultTimeout = 12 * time.Second

// Notifier is told about newly created leads.
type Notifier interface {
	NotifyLead(ctx context.Context, l *Lead) error
}

// Request describes the HTTP request a payload came from. All fields are
// optional.
type Request struct {
	IP        string
	UserAgent string
	Referrer  string
	// DefaultSource applies when the payload names none.
	DefaultSource string
}

type Options struct {
	DefaultCountryCode string
	Timeout            time.Duration
	Enricher           *enrichment.Enricher
	Notifier           Notifier
	Now                func() time.Time
}

// Service ingests leads.
type Service struct {
	store Store
	opts  Options
}

func NewService(store Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts}
}

// Ingest normalizes p and upserts it under tenantID. Repeated deliveries of
// the same contact update one row.
func (s *Service) Ingest(ctx context.Context, tenantID string, p Payload, req Request) (*Lead, bool, error) {
	if tenantID == "" {
		return nil, false, errs.New(errs.InvalidInput, "tenant_id is required")
	}

	metadata := make(map[string]string, len(p.Extra)+8)
	for k, v := range p.Extra {
		metadata[k] = v
	}

	countryCode := s.opts.DefaultCountryCode
	if req.IP != "" || req.UserAgent != "" || req.Referrer != "" {
		info := s.opts.Enricher.Enrich(req.IP, req.UserAgent, req.Referrer)
		for k, v := range info.Metadata() {
			metadata[k] = v
		}
		if info.CallingCode != "" {
			countryCode = info.CallingCode
		}
		if p.Source == "" && info.ReferrerType != "" {
			p.Source = info.ReferrerType
		}
	}

	phone := ""
	if p.Phone != "" {
		normalized, err := NormalizePhone(p.Phone, countryCode)
		switch {
		case err == nil:
			phone = normalized
		case p.Email != "":
			metadata["phone_raw"] = p.Phone
		default:
			return nil, false, errs.Wrap(errs.InvalidInput, "phone number is not valid", err)
		}
	}

	id, err := DeriveID(tenantID, phone, p.Email)
	if err != nil {
		return nil, false, errs.Wrap(errs.InvalidInput, "phone or email is required", err)
	}

	source := p.Source
	if source == "" {
		source = req.DefaultSource
	}

	now := s.opts.Now()
	lead := &Lead{
		LeadID:    id,
		TenantID:  tenantID,
		Name:      p.Name,
		Email:     p.Email,
		Phone:     phone,
		Source:    source,
		UTM:       p.UTM,
		Status:    p.Status,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(metadata) == 0 {
		lead.Metadata = nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stored, created, err := s.store.Upsert(writeCtx, lead)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error().Str("tenant_id", tenantID).Dur("timeout", s.opts.Timeout).Msg("Lead upsert timed out")
		}
		return nil, false, errs.InternalError(err)
	}

	result := "updated"
	if created {
		result = "created"
	}
	metrics.LeadsIngested.WithLabelValues(metricSource(stored.Source), result).Inc()
	log.Info().Str("tenant_id", tenantID).Str("lead_id", stored.LeadID).Str("result", result).Msg("Lead ingested")

	if created && s.opts.Notifier != nil {
		go s.notify(context.WithoutCancel(ctx), stored)
	}
	return stored, created, nil
}

func (s *Service) notify(ctx context.Context, l *Lead) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.opts.Notifier.NotifyLead(ctx, l); err != nil {
		log.Warn().Err(err).Str("lead_id", l.LeadID).Msg("Lead notification failed")
	}
}

// Get returns one lead of tenantID.
func (s *Service) Get(ctx context.Context, tenantID, leadID string) (*Lead, error) {
	return s.store.Get(ctx, tenantID, leadID)
}

// List returns the most recently updated leads of tenantID.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*Lead, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.List(ctx, tenantID, limit)
}

// metricSource keeps the source label bounded.
func metricSource(source string) string {
	switch source {
	case "whatsapp", "webhook", "form", "api", "search", "social", "campaign", "external":
		return source
	case "":
		return "unknown"
	}
	return "other"
}
