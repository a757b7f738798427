package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")
	t.Setenv("JWT_EXPIRE", "")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, DevelopmentSecret, cfg.JWTSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "medi-connect-api", cfg.JWTIssuer)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "8080", cfg.ServerPort)
}

func TestLoadConfigRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "qa")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "invalid environment value")
}

func TestLoadConfigProductionNeedsSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", DevelopmentSecret)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "development default")

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigMinioNeedsCredentials(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "MINIO_ACCESS_KEY")
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "12h", want: 12 * time.Hour},
		{in: "0d", wantErr: true},
		{in: "-1h", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpiry(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
