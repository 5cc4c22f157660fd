package settings

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/botzfyi/botz/internal/database"
)

// Bootstrap keys are never sealed because they hold the root secrets.
const (
	KeySecretKey = "secret_key"
	KeyJWTSecret = "jwt_secret"
)

var sensitivePattern = regexp.MustCompile(`(?i)(token|secret|password|access_key|auth_token|verify_token|api_key|license_key|sid)`)

// Service manages runtime settings stored in the database
type Service struct {
	db      *database.DB
	cipher  *Cipher
	cache   map[string]string
	cacheMu sync.RWMutex
}

// New creates a settings service. A nil cipher stores sensitive values in
// plain text.
func New(db *database.DB, c *Cipher) *Service {
	return &Service{
		db:     db,
		cipher: c,
		cache:  make(map[string]string),
	}
}

// SetCipher replaces the cipher once the instance secret is known.
func (s *Service) SetCipher(c *Cipher) {
	s.cacheMu.Lock()
	s.cipher = c
	s.cache = make(map[string]string)
	s.cacheMu.Unlock()
}

// Get retrieves a setting value; a missing key yields "".
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.cacheMu.RLock()
	if val, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return val, nil
	}
	s.cacheMu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}

	if IsSealed(value) {
		if value, err = s.cipher.Open(value); err != nil {
			return "", err
		}
	}

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return value, nil
}

// GetWithDefault retrieves a setting value with a default fallback
func (s *Service) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// GetInt retrieves a setting as an integer
func (s *Service) GetInt(ctx context.Context, key string, defaultValue int) int {
	i, err := strconv.Atoi(s.GetWithDefault(ctx, key, ""))
	if err != nil {
		return defaultValue
	}
	return i
}

// Set stores a setting, sealing sensitive values when a cipher is set.
func (s *Service) Set(ctx context.Context, key, value string) error {
	stored := value
	if IsSensitive(key) && value != "" && s.cipher != nil && s.cipher.aead != nil {
		sealed, err := s.cipher.Seal(value)
		if err != nil {
			return err
		}
		stored = sealed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, stored, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()
	return nil
}

// GetAllMasked returns every setting with sensitive values masked.
func (s *Service) GetAllMasked(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if value != "" && (IsSensitive(key) || key == KeySecretKey || key == KeyJWTSecret) {
			value = Mask(value)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Delete removes a setting
func (s *Service) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return err
	}
	s.cacheMu.Lock()
	delete(s.cache, key)
	s.cacheMu.Unlock()
	return nil
}

// Ensure returns the stored value for key, generating and persisting a
// random secret when none exists.
func (s *Service) Ensure(ctx context.Context, key string) (string, error) {
	val, err := s.Get(ctx, key)
	if err != nil || val != "" {
		return val, err
	}
	val = GenerateSecretKey()
	if err := s.Set(ctx, key, val); err != nil {
		return "", err
	}
	return val, nil
}

// GenerateSecretKey generates a new random secret key
func GenerateSecretKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// IsSensitive reports whether values under key are sealed and masked.
func IsSensitive(key string) bool {
	if key == KeySecretKey || key == KeyJWTSecret {
		return false
	}
	return sensitivePattern.MatchString(key)
}

// Mask hides all but the first and last two characters of value.
func Mask(value string) string {
	if len(value) <= 4 || IsSealed(value) {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
