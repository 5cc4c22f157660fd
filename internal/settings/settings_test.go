package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botzfyi/botz/internal/database"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("instance-secret")
	require.NoError(t, err)

	sealed, err := c.Seal("refresh-token-value")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "refresh-token-value")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", plain)

	other, err := NewCipher("different-secret")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestCipherWithoutKey(t *testing.T) {
	c, err := NewCipher("")
	require.NoError(t, err)

	_, err = c.Seal("x")
	assert.ErrorIs(t, err, ErrNoKey)

	plain, err := c.Open("not sealed")
	require.NoError(t, err)
	assert.Equal(t, "not sealed", plain)
}

func TestIsSensitive(t *testing.T) {
	for key, want := range map[string]bool{
		"smtp_password":       true,
		"meta_verify_token":   true,
		"openai_api_key":      true,
		"twilio_sid":          true,
		"maxmind_license_key": true,
		"notify_email":        false,
		KeySecretKey:          false,
		KeyJWTSecret:          false,
	} {
		assert.Equal(t, want, IsSensitive(key), key)
	}
}

func TestServiceSealsSensitiveValues(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	c, err := NewCipher("instance-secret")
	require.NoError(t, err)
	s := New(db, c)

	require.NoError(t, s.Set(ctx, "smtp_password", "hunter22"))
	require.NoError(t, s.Set(ctx, "notify_email", "ops@example.com"))

	var raw string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", "smtp_password").Scan(&raw))
	assert.True(t, IsSealed(raw))

	// A fresh service reads through the database rather than the cache.
	fresh := New(db, c)
	got, err := fresh.Get(ctx, "smtp_password")
	require.NoError(t, err)
	assert.Equal(t, "hunter22", got)

	masked, err := fresh.GetAllMasked(ctx)
	require.NoError(t, err)
	assert.Equal(t, "****", masked["smtp_password"])
	assert.Equal(t, "ops@example.com", masked["notify_email"])
}

func TestGetAllMaskedHidesInstanceSecrets(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	s := New(db, nil)

	secret, err := s.Ensure(ctx, KeyJWTSecret)
	require.NoError(t, err)

	masked, err := s.GetAllMasked(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, secret, masked[KeyJWTSecret])
	assert.Equal(t, secret[:2], masked[KeyJWTSecret][:2])
	assert.Equal(t, "ab****yz", Mask("ab1234yz"))
	assert.Equal(t, "****", Mask("abc"))
}

func TestServiceEnsureIsStable(t *testing.T) {
	db := database.OpenTest(t)
	ctx := context.Background()
	s := New(db, nil)

	first, err := s.Ensure(ctx, KeySecretKey)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := New(db, nil).Ensure(ctx, KeySecretKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 7, s.GetInt(ctx, "missing", 7))
	require.NoError(t, s.Delete(ctx, KeySecretKey))
	assert.Equal(t, "fallback", s.GetWithDefault(ctx, KeySecretKey, "fallback"))
}
