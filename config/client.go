package config

import "os"

// Participant client defaults.
const (
	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
)

// ClientConfig configures the chatpeer participant client.
type ClientConfig struct {
	ServerURL   string
	STUNServers []string
	LogLevel    string
}

// ClientOptions carries CLI flag overrides.
type ClientOptions struct {
	ServerURL  string
	STUNServer string
	LogLevel   string
}

// LoadClient resolves each setting as: CLI flag, then environment, then default.
func LoadClient(opts ClientOptions) *ClientConfig {
	return &ClientConfig{
		ServerURL:   firstNonEmpty(opts.ServerURL, os.Getenv("SERVER_URL"), DefaultServerURL),
		STUNServers: []string{firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)},
		LogLevel:    firstNonEmpty(opts.LogLevel, os.Getenv("LOG_LEVEL"), "info"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
