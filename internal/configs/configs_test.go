package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	t.Setenv("S3_BUCKET_NAME", "slopelink-avatars")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_ACCESS_KEY_ID", "minio")
	t.Setenv("S3_SECRET_ACCESS_KEY", "minio123")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	for _, key := range []string{"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "PARTY_MAX_MEMBERS", "PARTY_STALE_AFTER", "PARTY_STALE_POLICY", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 8080, cfg.Port)
	require.Empty(t, cfg.AllowedOrigins)
	require.Equal(t, 10, cfg.PartyMaxMembers)
	require.Equal(t, 30*time.Second, cfg.PartyStaleAfter)
	require.Equal(t, StalePolicyMark, cfg.PartyStalePolicy)
	require.NotEmpty(t, cfg.DatabaseDSN, "development falls back to a local DSN")
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("PARTY_MAX_MEMBERS", "4")
	t.Setenv("PARTY_STALE_AFTER", "45s")
	t.Setenv("PARTY_STALE_POLICY", StalePolicyRemove)
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/slopelink")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.AllowedOrigins)
	require.Equal(t, 4, cfg.PartyMaxMembers)
	require.Equal(t, 45*time.Second, cfg.PartyStaleAfter)
	require.Equal(t, StalePolicyRemove, cfg.PartyStalePolicy)
	require.Equal(t, "postgres://app:secret@db:5432/slopelink", cfg.DatabaseDSN)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "eighty"},
		{"privileged port", "PORT", "80"},
		{"party too small", "PARTY_MAX_MEMBERS", "1"},
		{"non-numeric max members", "PARTY_MAX_MEMBERS", "many"},
		{"bad stale duration", "PARTY_STALE_AFTER", "soon"},
		{"negative stale duration", "PARTY_STALE_AFTER", "-5s"},
		{"unknown stale policy", "PARTY_STALE_POLICY", "evict"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresS3Settings(t *testing.T) {
	for _, key := range []string{"S3_BUCKET_NAME", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY"} {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "")

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresDatabaseOutsideDevelopment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
}
