package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/errs"
)

// StripeRefs links an entitlement to its Stripe objects.
type StripeRefs struct {
	CustomerID     string
	SubscriptionID string
}

// Activate moves userID onto planKey with the plan's credit limit.
// credits_used is preserved.
func (g *Gate) Activate(ctx context.Context, userID, planKey string, refs StripeRefs) (*Entitlement, error) {
	if !KnownPlan(planKey) {
		planKey = DefaultPlan
	}
	e, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, StatusActive) {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("cannot activate entitlement in status %s", e.Status))
	}

	e.Status = StatusActive
	e.PlanKey = planKey
	e.CreditsLimit = Limits(planKey).CreditsLimit
	if refs.CustomerID != "" {
		e.StripeCustomerID = refs.CustomerID
	}
	if refs.SubscriptionID != "" {
		e.StripeSubscriptionID = refs.SubscriptionID
	}
	e.UpdatedAt = g.now()

	if err := g.store.Save(ctx, e); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Str("plan", planKey).Msg("Entitlement activated")
	return e, nil
}

// Block denies all further access for userID.
func (g *Gate) Block(ctx context.Context, userID string) (*Entitlement, error) {
	e, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusBlocked {
		return e, nil
	}
	e.Status = StatusBlocked
	e.UpdatedAt = g.now()
	if err := g.store.Save(ctx, e); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Msg("Entitlement blocked")
	return e, nil
}

// BlockSubscription blocks the user owning a Stripe subscription. It
// returns database.ErrNotFound when no entitlement references it.
func (g *Gate) BlockSubscription(ctx context.Context, subscriptionID string) (*Entitlement, error) {
	if subscriptionID == "" {
		return nil, database.ErrNotFound
	}
	userID, err := g.store.UserBySubscription(ctx, g.opts.ProductKey, subscriptionID)
	if err != nil {
		return nil, err
	}
	return g.Block(ctx, userID)
}

// Patch is an admin edit. Nil fields are left unchanged.
type Patch struct {
	PlanKey      *string    `json:"plan_key,omitempty"`
	Status       *string    `json:"status,omitempty"`
	CreditsLimit *int64     `json:"credits_limit,omitempty"`
	CreditsUsed  *int64     `json:"credits_used,omitempty"`
	TrialEnd     *time.Time `json:"trial_end,omitempty"`
}

// Update applies an admin edit. Admin edits may set any status and may
// lower credits_used.
func (g *Gate) Update(ctx context.Context, userID string, p Patch) (*Entitlement, error) {
	e, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.PlanKey != nil {
		if !KnownPlan(*p.PlanKey) {
			return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown plan %q", *p.PlanKey))
		}
		e.PlanKey = *p.PlanKey
	}
	if p.Status != nil {
		status, err := ParseStatus(*p.Status)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidInput, err.Error(), err)
		}
		e.Status = status
	}
	if p.CreditsLimit != nil {
		if *p.CreditsLimit < 0 {
			return nil, errs.New(errs.InvalidInput, "credits_limit must not be negative")
		}
		e.CreditsLimit = *p.CreditsLimit
	}
	if p.CreditsUsed != nil {
		if *p.CreditsUsed < 0 {
			return nil, errs.New(errs.InvalidInput, "credits_used must not be negative")
		}
		e.CreditsUsed = *p.CreditsUsed
	}
	if p.TrialEnd != nil {
		e.TrialEnd = *p.TrialEnd
	}
	e.UpdatedAt = g.now()

	// Without a credits_used edit, Save leaves the counter to AddCredits.
	write := g.store.Save
	if p.CreditsUsed != nil {
		write = g.store.Overwrite
	}
	if err := write(ctx, e); err != nil {
		return nil, err
	}
	log.Warn().Str("user_id", userID).Str("status", string(e.Status)).Int64("credits_used", e.CreditsUsed).Msg("Entitlement edited by admin")
	return e, nil
}
