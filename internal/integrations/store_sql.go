package integrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/botzfyi/botz/internal/database"
	"github.com/botzfyi/botz/internal/settings"
)

// Store persists integrations with sealed credentials.
type Store interface {
	Get(ctx context.Context, id string) (*Integration, error)
	ListByUser(ctx context.Context, userID string) ([]*Integration, error)
	Upsert(ctx context.Context, in *Integration) (*Integration, error)
	UpdateCredentials(ctx context.Context, id string, creds Credentials, status string) error
	SetStatus(ctx context.Context, id, status string) error
}

type SQLStore struct {
	db     *database.DB
	cipher *settings.Cipher
	now    func() time.Time
}

func NewSQLStore(db *database.DB, cipher *settings.Cipher) *SQLStore {
	return &SQLStore{db: db, cipher: cipher, now: time.Now}
}

const integrationColumns = `id, tenant_id, user_id, channel_type, provider, status, account_email, credentials, created_at, updated_at`

func (s *SQLStore) Get(ctx context.Context, id string) (*Integration, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+integrationColumns+" FROM integrations WHERE id = ?", id)
	in, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	return in, err
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Integration{}
	for rows.Next() {
		in, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Upsert inserts in or, when the user already connected the same channel
// and provider, replaces its account and credentials.
func (s *SQLStore) Upsert(ctx context.Context, in *Integration) (*Integration, error) {
	sealed, err := s.seal(in.Credentials)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = StatusConnected
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel_type, provider) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			status = excluded.status,
			account_email = excluded.account_email,
			credentials = excluded.credentials,
			updated_at = excluded.updated_at
		RETURNING `+integrationColumns,
		in.ID, in.TenantID, in.UserID, in.ChannelType, in.Provider, in.Status, in.AccountEmail, sealed, now, now)
	return s.scan(row)
}

func (s *SQLStore) UpdateCredentials(ctx context.Context, id string, creds Credentials, status string) error {
	sealed, err := s.seal(creds)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE integrations SET credentials = ?, status = ?, updated_at = ? WHERE id = ?",
		sealed, status, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?",
		status, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) seal(c Credentials) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sealed, err := s.cipher.Seal(string(raw))
	if err != nil {
		return "", fmt.Errorf("seal credentials: %w", err)
	}
	return sealed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scan(row scanner) (*Integration, error) {
	var (
		in                   Integration
		sealed               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&in.ID, &in.TenantID, &in.UserID, &in.ChannelType, &in.Provider, &in.Status,
		&in.AccountEmail, &sealed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	in.CreatedAt = time.UnixMilli(createdAt)
	in.UpdatedAt = time.UnixMilli(updatedAt)

	if sealed != "" {
		raw, err := s.cipher.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("open credentials of %s: %w", in.ID, err)
		}
		if err := json.Unmarshal([]byte(raw), &in.Credentials); err != nil {
			return nil, fmt.Errorf("decode credentials of %s: %w", in.ID, err)
		}
	}
	return &in, nil
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
