package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/botzfyi/botz/internal/database"
)

// Store persists leads.
type Store interface {
	// Upsert inserts or merges l by LeadID and returns the stored row and
	// whether it was newly created.
	Upsert(ctx context.Context, l *Lead) (*Lead, bool, error)
	Get(ctx context.Context, tenantID, leadID string) (*Lead, error)
	List(ctx context.Context, tenantID string, limit int) ([]*Lead, error)
}

type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

const leadColumns = `lead_id, tenant_id, name, email, phone, source,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content,
	status, metadata, created_at, updated_at`

// Non-empty incoming values win; empty ones keep the stored value. The
// stored status only changes when the payload sets one.
const upsertLead = `
	INSERT INTO leads (` + leadColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (lead_id) DO UPDATE SET
		name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE leads.name END,
		email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE leads.email END,
		phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE leads.phone END,
		source = CASE WHEN excluded.source <> '' THEN excluded.source ELSE leads.source END,
		utm_source = CASE WHEN excluded.utm_source <> '' THEN excluded.utm_source ELSE leads.utm_source END,
		utm_medium = CASE WHEN excluded.utm_medium <> '' THEN excluded.utm_medium ELSE leads.utm_medium END,
		utm_campaign = CASE WHEN excluded.utm_campaign <> '' THEN excluded.utm_campaign ELSE leads.utm_campaign END,
		utm_term = CASE WHEN excluded.utm_term <> '' THEN excluded.utm_term ELSE leads.utm_term END,
		utm_content = CASE WHEN excluded.utm_content <> '' THEN excluded.utm_content ELSE leads.utm_content END,
		status = CASE WHEN CAST(? AS TEXT) <> '' THEN excluded.status ELSE leads.status END,
		metadata = CASE WHEN excluded.metadata <> '{}' THEN excluded.metadata ELSE leads.metadata END,
		updated_at = excluded.updated_at
	RETURNING ` + leadColumns

func (s *SQLStore) Upsert(ctx context.Context, l *Lead) (*Lead, bool, error) {
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return nil, false, err
	}
	if l.Metadata == nil {
		metadata = []byte("{}")
	}
	status := l.Status
	if status == "" {
		status = StatusNew
	}

	var (
		stored  *Lead
		created bool
	)
	err = s.db.InTx(ctx, func(tx *database.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads WHERE lead_id = ?", l.LeadID).Scan(&n); err != nil {
			return err
		}
		created = n == 0

		row := tx.QueryRowContext(ctx, upsertLead,
			l.LeadID, l.TenantID, l.Name, l.Email, l.Phone, l.Source,
			l.UTM.Source, l.UTM.Medium, l.UTM.Campaign, l.UTM.Term, l.UTM.Content,
			status, string(metadata), l.CreatedAt.UnixMilli(), l.UpdatedAt.UnixMilli(),
			l.Status,
		)
		var err error
		stored, err = scanLead(row)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *SQLStore) Get(ctx context.Context, tenantID, leadID string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+leadColumns+" FROM leads WHERE tenant_id = ? AND lead_id = ?", tenantID, leadID)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	return l, err
}

func (s *SQLStore) List(ctx context.Context, tenantID string, limit int) ([]*Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE tenant_id = ? ORDER BY updated_at DESC LIMIT ?",
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (*Lead, error) {
	var (
		l                    Lead
		metadata             string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&l.LeadID, &l.TenantID, &l.Name, &l.Email, &l.Phone, &l.Source,
		&l.UTM.Source, &l.UTM.Medium, &l.UTM.Campaign, &l.UTM.Term, &l.UTM.Content,
		&l.Status, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
			return nil, err
		}
	}
	l.CreatedAt = time.UnixMilli(createdAt)
	l.UpdatedAt = time.UnixMilli(updatedAt)
	return &l, nil
}
