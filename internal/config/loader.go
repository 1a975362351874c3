package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownDialectStyles lists the answer styles the backend ships with.
// [Validate] warns about styles outside this list since the server may
// still accept ones added after this build.
var KnownDialectStyles = []string{"standard", "jeju", "gyeongsang", "jeolla", "chungcheong"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Admin.LogLevel != "" && !cfg.Admin.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("admin.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Admin.LogLevel))
	}

	if cfg.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url is required"))
	} else if parsed, err := url.Parse(cfg.API.BaseURL); err != nil || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not a valid URL", cfg.API.BaseURL))
	}

	if cfg.Chat.DialectStyle != "" && !slices.Contains(KnownDialectStyles, cfg.Chat.DialectStyle) {
		slog.Warn("unknown dialect style; may be a typo or a newly added style",
			"style", cfg.Chat.DialectStyle,
			"known", KnownDialectStyles,
		)
	}

	for i, server := range cfg.Voice.STUNServers {
		if !strings.HasPrefix(server, "stun:") && !strings.HasPrefix(server, "turn:") {
			errs = append(errs, fmt.Errorf("voice.stun_servers[%d] %q must use the stun: or turn: scheme", i, server))
		}
	}

	if cfg.Chat.HistoryLimit < 0 {
		slog.Warn("chat.history_limit is negative; the conversation history will be unbounded")
	}

	return errors.Join(errs...)
}
