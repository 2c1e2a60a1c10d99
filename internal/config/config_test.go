package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
env: local
telegram:
  enabled: false
`)
	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, conf.Gate.SessionTTL)
	assert.Equal(t, 5*time.Minute, conf.Gate.ChallengeTTL)
	assert.Equal(t, 720*time.Hour, conf.Gate.LinkTTL)
	assert.Equal(t, 3, conf.Gate.MaxAttempts)
	assert.Equal(t, 24*time.Hour, conf.Gate.InviteTTL)
	assert.Equal(t, "protected_bot_db", conf.Mongo.Database)
}

func TestLoad_Values(t *testing.T) {
	path := writeConfig(t, `
env: prod
telegram:
  enabled: true
  api_key: "123:abc"
  admin_ids: [42, 7]
  required_groups: [-1001]
gate:
  captcha: true
  session_ttl: 10m
api:
  keys:
    - key: secret
      principal: 42
`)
	conf, err := Load(path)
	require.NoError(t, err)

	assert.True(t, conf.Gate.Captcha)
	assert.Equal(t, 10*time.Minute, conf.Gate.SessionTTL)
	assert.Equal(t, []int64{-1001}, conf.Telegram.RequiredGroups)
	assert.True(t, conf.IsAdmin(7))
	assert.False(t, conf.IsAdmin(8))
	require.Len(t, conf.Api.Keys, 1)
	assert.Equal(t, int64(42), conf.Api.Keys[0].Principal)
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, `
telegram:
  enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}
