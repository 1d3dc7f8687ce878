package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepEvery())
	assert.Equal(t, 15*time.Minute, cfg.Session.IdleAfter())
	assert.Equal(t, DefaultSweepBatchSize, cfg.Session.SweepBatchSize)
	assert.Equal(t, []string{"whatsapp", "instagram"}, cfg.Session.SweptPlatforms)
	assert.NotEmpty(t, cfg.Session.ClosingNotice)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9000"
api_key = "relay-key"

[chatbot]
url = "http://chatbot.internal/ask"
api_key = "bot-key"

[whatsapp]
verify_token = "vt"
access_token = "at"
phone_number_id = "123"

[email]
provider = "imap"
outbound = "smtp"
from_address = "cs@example.com"

[email.imap]
host = "imap.example.com"
port = 993
username = "cs@example.com"
password = "secret"

[email.smtp]
host = "smtp.example.com"
port = 465

[session]
sweep_interval = "1m"
idle_timeout = "30m"
swept_platforms = ["whatsapp"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Chatbot.Configured())
	assert.True(t, cfg.WhatsApp.Configured())
	assert.False(t, cfg.Instagram.Configured())
	assert.True(t, cfg.Email.IngestConfigured())
	assert.True(t, cfg.Email.OutboundConfigured())
	assert.Equal(t, time.Minute, cfg.Session.SweepEvery())
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleAfter())
	assert.Equal(t, []string{"whatsapp"}, cfg.Session.SweptPlatforms)
}

func TestSessionDurationsFallBackOnGarbage(t *testing.T) {
	s := SessionConfig{SweepInterval: "not-a-duration", IdleTimeout: "-5m"}
	assert.Equal(t, 5*time.Minute, s.SweepEvery())
	assert.Equal(t, 15*time.Minute, s.IdleAfter())
}

func TestPostgresURL(t *testing.T) {
	pg := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "kanal",
		Password: "pw",
		Database: "kanal",
		SSLMode:  "disable",
	}
	assert.Equal(t, "postgres://kanal:pw@localhost:5432/kanal?sslmode=disable", pg.URL())
}
