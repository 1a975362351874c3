// Package config provides the configuration schema and loader for the
// Ansim realtime client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded
// from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Admin AdminConfig `yaml:"admin"`
	API   APIConfig   `yaml:"api"`
	Chat  ChatConfig  `yaml:"chat"`
	Voice VoiceConfig `yaml:"voice"`
}

// AdminConfig holds settings for the local admin HTTP server exposing
// health and metrics endpoints.
type AdminConfig struct {
	// ListenAddr is the TCP address the admin server listens on
	// (e.g., "127.0.0.1:9090"). Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// APIConfig points the client at the Ansim backend.
type APIConfig struct {
	// BaseURL is the backend origin (e.g., "https://innohack.kimjinwoo.me").
	BaseURL string `yaml:"base_url"`

	// AccessToken is the bearer token sent with authenticated requests.
	// May be empty for anonymous access.
	AccessToken string `yaml:"access_token"`
}

// ChatConfig configures the retrieval-chat socket.
type ChatConfig struct {
	// WSBase overrides the WebSocket origin. When empty it is derived
	// from api.base_url (https becomes wss).
	WSBase string `yaml:"ws_base"`

	// DialectStyle selects the answer style (e.g., "standard", "jeju").
	DialectStyle string `yaml:"dialect_style"`

	// HistoryLimit bounds the visible conversation history. Zero keeps
	// the default; negative disables the bound.
	HistoryLimit int `yaml:"history_limit"`
}

// VoiceConfig configures the voice assistant session.
type VoiceConfig struct {
	// Instructions is the assistant prompt sent with the session request.
	Instructions string `yaml:"instructions"`

	// STUNServers overrides the public STUN list. Entries must use the
	// stun: or turn: scheme.
	STUNServers []string `yaml:"stun_servers"`

	// Metadata is merged over the default session metadata
	// (client, client_version, locale).
	Metadata map[string]string `yaml:"metadata"`
}
