package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/botzfyi/botz/internal/database"
)

// SQLStore keeps entitlements in the entitlements table.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectEntitlement = `
	SELECT user_id, product_key, plan_key, status, credits_limit, credits_used,
		trial_start, trial_end, stripe_customer_id, stripe_subscription_id,
		created_at, updated_at
	FROM entitlements
	WHERE user_id = ? AND product_key = ?`

func (s *SQLStore) Get(ctx context.Context, userID, productKey string) (*Entitlement, error) {
	var (
		e                                          Entitlement
		status                                     string
		trialStart, trialEnd, createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, selectEntitlement, userID, productKey).Scan(
		&e.UserID, &e.ProductKey, &e.PlanKey, &status, &e.CreditsLimit, &e.CreditsUsed,
		&trialStart, &trialEnd, &e.StripeCustomerID, &e.StripeSubscriptionID,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.TrialStart = time.UnixMilli(trialStart)
	e.TrialEnd = time.UnixMilli(trialEnd)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return &e, nil
}

func (s *SQLStore) CreateIfAbsent(ctx context.Context, e *Entitlement) (*Entitlement, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (
			user_id, product_key, plan_key, status, credits_limit, credits_used,
			trial_start, trial_end, stripe_customer_id, stripe_subscription_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, product_key) DO NOTHING`,
		e.UserID, e.ProductKey, e.PlanKey, string(e.Status), e.CreditsLimit, e.CreditsUsed,
		e.TrialStart.UnixMilli(), e.TrialEnd.UnixMilli(), e.StripeCustomerID, e.StripeSubscriptionID,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, e.UserID, e.ProductKey)
}

func (s *SQLStore) AddCredits(ctx context.Context, userID, productKey string, delta, hardLimit int64) (int64, bool, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE entitlements
		SET credits_used = credits_used + ?, updated_at = ?
		WHERE user_id = ? AND product_key = ? AND credits_used <= ?
		RETURNING credits_used`,
		delta, time.Now().UnixMilli(), userID, productKey, hardLimit-delta,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, true, nil
}

func (s *SQLStore) Save(ctx context.Context, e *Entitlement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements
		SET plan_key = ?, status = ?, credits_limit = ?, trial_start = ?, trial_end = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, updated_at = ?
		WHERE user_id = ? AND product_key = ?`,
		e.PlanKey, string(e.Status), e.CreditsLimit, e.TrialStart.UnixMilli(), e.TrialEnd.UnixMilli(),
		e.StripeCustomerID, e.StripeSubscriptionID, e.UpdatedAt.UnixMilli(),
		e.UserID, e.ProductKey,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) Overwrite(ctx context.Context, e *Entitlement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements
		SET plan_key = ?, status = ?, credits_limit = ?, credits_used = ?, trial_start = ?, trial_end = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, updated_at = ?
		WHERE user_id = ? AND product_key = ?`,
		e.PlanKey, string(e.Status), e.CreditsLimit, e.CreditsUsed, e.TrialStart.UnixMilli(), e.TrialEnd.UnixMilli(),
		e.StripeCustomerID, e.StripeSubscriptionID, e.UpdatedAt.UnixMilli(),
		e.UserID, e.ProductKey,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) UserBySubscription(ctx context.Context, productKey, subscriptionID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM entitlements WHERE product_key = ? AND stripe_subscription_id = ?",
		productKey, subscriptionID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	return userID, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
