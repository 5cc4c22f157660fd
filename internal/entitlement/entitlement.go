// Package entitlement tracks per-user plan, trial and credit state and gates
// access to credit-consuming features.
package entitlement

import (
	"fmt"
	"net/http"
	"time"

	"github.com/botzfyi/botz/internal/errs"
)

// Status is the lifecycle state of an entitlement.
type Status string

const (
	StatusTrial    Status = "trial"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusBlocked  Status = "blocked"
)

// ParseStatus validates s. An empty status is a trial.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "":
		return StatusTrial, nil
	case StatusTrial, StatusTrialing, StatusActive, StatusBlocked:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown entitlement status %q", s)
}

// IsTrial reports whether the trial window applies.
func (s Status) IsTrial() bool {
	return s == StatusTrial || s == StatusTrialing
}

// CanTransition reports whether billing may move an entitlement from one
// status to another. Admin edits bypass this.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusTrial, StatusTrialing:
		return to == StatusActive || to == StatusBlocked
	case StatusActive:
		return to == StatusBlocked
	case StatusBlocked:
		return to == StatusActive
	}
	return false
}

// Code classifies a gate decision.
type Code string

const (
	CodeOK               Code = "ok"
	CodeGrace            Code = "grace"
	CodeOverage          Code = "overage"
	CodeBlocked          Code = "blocked"
	CodeTrialExpired     Code = "trial_expired"
	CodeCreditsExhausted Code = "credits_exhausted"
	CodeInternal         Code = "internal_error"
)

// Allowed reports whether the code lets the request through.
func (c Code) Allowed() bool {
	switch c {
	case CodeOK, CodeGrace, CodeOverage:
		return true
	case CodeBlocked, CodeTrialExpired, CodeCreditsExhausted, CodeInternal:
		return false
	}
	return false
}

// Status returns the HTTP status for the code.
func (c Code) Status() int {
	switch c {
	case CodeOK, CodeGrace, CodeOverage:
		return http.StatusOK
	case CodeBlocked, CodeTrialExpired:
		return http.StatusForbidden
	case CodeCreditsExhausted:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// Entitlement is a user's plan, trial and credit state for one product.
type Entitlement struct {
	UserID               string    `json:"user_id"`
	ProductKey           string    `json:"product_key"`
	PlanKey              string    `json:"plan_key"`
	Status               Status    `json:"status"`
	CreditsLimit         int64     `json:"credits_limit"`
	CreditsUsed          int64     `json:"credits_used"`
	TrialStart           time.Time `json:"trial_start"`
	TrialEnd             time.Time `json:"trial_end"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Limits returns the plan limits of the entitlement.
func (e *Entitlement) Limits() PlanLimits {
	return Limits(e.PlanKey)
}

// HardLimit returns the usage ceiling of the entitlement.
func (e *Entitlement) HardLimit() int64 {
	return e.Limits().HardLimit(e.CreditsLimit)
}

// Decision is the result of CheckAccess and ConsumeCredits.
type Decision struct {
	OK          bool         `json:"ok"`
	StatusCode  int          `json:"status_code"`
	Code        Code         `json:"code"`
	Admin       bool         `json:"admin,omitempty"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`

	// Err holds the cause of CodeInternal decisions.
	Err error `json:"-"`
}

func decide(code Code, e *Entitlement) Decision {
	return Decision{OK: code.Allowed(), StatusCode: code.Status(), Code: code, Entitlement: e}
}

func internal(err error) Decision {
	return Decision{StatusCode: http.StatusInternalServerError, Code: CodeInternal, Err: err}
}

// Denial converts a denied decision into an *errs.Error; allowed decisions
// return nil.
func (d Decision) Denial() *errs.Error {
	switch d.Code {
	case CodeOK, CodeGrace, CodeOverage:
		return nil
	case CodeBlocked:
		return errs.New(errs.Blocked, "account is blocked")
	case CodeTrialExpired:
		return errs.New(errs.TrialExpired, "trial has expired")
	case CodeCreditsExhausted:
		return errs.New(errs.CreditsExhausted, "credits exhausted")
	}
	return errs.InternalError(d.Err)
}
