package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("MAX_MESSAGE_LENGTH", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Redis.PresenceTTL)
	assert.Equal(t, 2000, cfg.Chat.MaxMessageLength)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PRESENCE_TTL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 90*time.Second, cfg.Redis.PresenceTTL)
	assert.Equal(t, []string{"https://chat.example"}, cfg.AllowedOrigins)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SEND_BUFFER", "lots")
	assert.Equal(t, 256, Load().Chat.SendBuffer)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("SEND_BUFFER", "-4")
	t.Setenv("MAX_MESSAGE_LENGTH", "0")

	cfg := Load()
	assert.Equal(t, DefaultSendBuffer, cfg.Chat.SendBuffer)
	assert.Equal(t, DefaultMaxMessageLength, cfg.Chat.MaxMessageLength)
}

func TestLoadClientPriority(t *testing.T) {
	t.Setenv("SERVER_URL", "ws://env:1/ws")
	t.Setenv("STUN_SERVER", "")

	cfg := LoadClient(ClientOptions{})
	assert.Equal(t, "ws://env:1/ws", cfg.ServerURL)
	assert.Equal(t, []string{DefaultSTUN}, cfg.STUNServers)

	cfg = LoadClient(ClientOptions{ServerURL: "ws://flag:2/ws", STUNServer: "stun:flag"})
	assert.Equal(t, "ws://flag:2/ws", cfg.ServerURL)
	assert.Equal(t, []string{"stun:flag"}, cfg.STUNServers)
}
