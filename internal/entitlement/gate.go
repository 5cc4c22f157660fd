package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/metrics"
)

// Store persists entitlements.
type Store interface {
	// Get returns database.ErrNotFound when no row exists.
	Get(ctx context.Context, userID, productKey string) (*Entitlement, error)
	// CreateIfAbsent inserts e unless a row exists and returns the stored row.
	CreateIfAbsent(ctx context.Context, e *Entitlement) (*Entitlement, error)
	// AddCredits adds delta to credits_used only if the result stays within
	// hardLimit, returning the new total and whether the row was updated.
	AddCredits(ctx context.Context, userID, productKey string, delta, hardLimit int64) (int64, bool, error)
	// Save overwrites plan, status, limit, trial window and Stripe refs of an
	// existing row. credits_used is not written.
	Save(ctx context.Context, e *Entitlement) error
	// Overwrite writes every mutable column of an existing row, credits_used
	// included, in one statement. Only admin edits call it.
	Overwrite(ctx context.Context, e *Entitlement) error
	// UserBySubscription resolves a Stripe subscription id to its user.
	UserBySubscription(ctx context.Context, productKey, subscriptionID string) (string, error)
}

// Options configure a Gate.
type Options struct {
	ProductKey   string
	TrialDays    int
	TrialCredits int64
	AdminUserIDs []string
	Now          func() time.Time
}

// Gate answers access and credit questions for one product.
type Gate struct {
	store  Store
	opts   Options
	admins map[string]struct{}
	now    func() time.Time
}

// NewGate returns a Gate backed by store.
func NewGate(store Store, opts Options) *Gate {
	if opts.ProductKey == "" {
		opts.ProductKey = "agents"
	}
	if opts.TrialDays <= 0 {
		opts.TrialDays = 3
	}
	if opts.TrialCredits <= 0 {
		opts.TrialCredits = Limits(DefaultPlan).CreditsLimit
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	admins := make(map[string]struct{}, len(opts.AdminUserIDs))
	for _, id := range opts.AdminUserIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Gate{store: store, opts: opts, admins: admins, now: now}
}

// ProductKey returns the product this gate accounts for.
func (g *Gate) ProductKey() string {
	return g.opts.ProductKey
}

// IsAdmin reports whether userID bypasses every limit.
func (g *Gate) IsAdmin(userID string) bool {
	_, ok := g.admins[userID]
	return ok
}

// CheckAccess returns whether userID may use the product, creating a trial
// entitlement on first access.
func (g *Gate) CheckAccess(ctx context.Context, userID string) Decision {
	d := g.checkAccess(ctx, userID)
	record("check", d)
	return d
}

func (g *Gate) checkAccess(ctx context.Context, userID string) Decision {
	if g.IsAdmin(userID) {
		return Decision{OK: true, StatusCode: CodeOK.Status(), Code: CodeOK, Admin: true}
	}

	e, err := g.load(ctx, userID)
	if err != nil {
		return internal(err)
	}

	switch e.Status {
	case StatusBlocked:
		return decide(CodeBlocked, e)
	case StatusTrial, StatusTrialing:
		if g.now().After(e.TrialEnd) {
			return decide(CodeTrialExpired, e)
		}
	case StatusActive:
	default:
		return internal(fmt.Errorf("entitlement %s/%s has unknown status %q", e.UserID, e.ProductKey, e.Status))
	}

	if e.CreditsUsed >= e.HardLimit() {
		return decide(CodeCreditsExhausted, e)
	}
	return decide(usageCode(e), e)
}

// ConsumeCredits debits delta credits after re-running the access check.
// Negative deltas are treated as zero. A debit that would cross the hard
// limit is refused without being applied.
func (g *Gate) ConsumeCredits(ctx context.Context, userID string, delta int64) Decision {
	d := g.consumeCredits(ctx, userID, delta)
	record("consume", d)
	return d
}

func (g *Gate) consumeCredits(ctx context.Context, userID string, delta int64) Decision {
	if delta < 0 {
		delta = 0
	}

	d := g.checkAccess(ctx, userID)
	if !d.OK || d.Admin || delta == 0 {
		return d
	}

	e := d.Entitlement
	used, ok, err := g.store.AddCredits(ctx, e.UserID, e.ProductKey, delta, e.HardLimit())
	if err != nil {
		return internal(err)
	}
	if !ok {
		return decide(CodeCreditsExhausted, e)
	}

	metrics.CreditsConsumed.Add(float64(delta))
	e.CreditsUsed = used
	return decide(usageCode(e), e)
}

// usageCode classifies usage that is within the hard limit.
func usageCode(e *Entitlement) Code {
	if e.CreditsUsed < e.CreditsLimit {
		return CodeOK
	}
	if e.Limits().AllowOverage {
		return CodeOverage
	}
	return CodeGrace
}

// Get returns the entitlement of userID without creating one.
func (g *Gate) Get(ctx context.Context, userID string) (*Entitlement, error) {
	return g.store.Get(ctx, userID, g.opts.ProductKey)
}

func (g *Gate) load(ctx context.Context, userID string) (*Entitlement, error) {
	e, err := g.store.Get(ctx, userID, g.opts.ProductKey)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	now := g.now()
	e, err = g.store.CreateIfAbsent(ctx, &Entitlement{
		UserID:       userID,
		ProductKey:   g.opts.ProductKey,
		PlanKey:      DefaultPlan,
		Status:       StatusTrial,
		CreditsLimit: g.opts.TrialCredits,
		TrialStart:   now,
		TrialEnd:     now.Add(time.Duration(g.opts.TrialDays) * 24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Time("trial_end", e.TrialEnd).Msg("Created trial entitlement")
	return e, nil
}

func record(op string, d Decision) {
	metrics.EntitlementDecisions.WithLabelValues(op, string(d.Code)).Inc()
	if d.Code == CodeInternal {
		log.Error().Err(d.Err).Str("operation", op).Msg("Entitlement check failed")
	}
}
