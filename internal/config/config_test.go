package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "STORAGE_DRIVER", "AUTH_MODE", "STORE_TIMEOUT", "PUBLISH_TIMEOUT", "SEND_BUFFER_SIZE", "MAX_MESSAGE_SIZE", "DEBUG_ROUTES")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StorageDriver)
	assert.Equal(t, "none", cfg.AuthMode)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 2*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, int64(8192), cfg.MaxMessageSize)
	assert.False(t, cfg.DebugRoutes)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "badger")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverBadger, cfg.StorageDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.DebugRoutes)
}

func TestValidate(t *testing.T) {
	valid := Config{StorageDriver: DriverMemory, AuthMode: "none", SendBufferSize: 1, MaxMessageSize: 1}
	require.NoError(t, valid.Validate())

	badDriver := valid
	badDriver.StorageDriver = "redis"
	assert.ErrorContains(t, badDriver.Validate(), "STORAGE_DRIVER")

	noSecret := valid
	noSecret.AuthMode = "jwt"
	assert.ErrorContains(t, noSecret.Validate(), "JWT_SECRET")

	badMode := valid
	badMode.AuthMode = "ldap"
	badMode.SendBufferSize = 0
	err := badMode.Validate()
	assert.ErrorContains(t, err, "AUTH_MODE")
	assert.ErrorContains(t, err, "SEND_BUFFER_SIZE")
}
