package chat

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var schemePattern = regexp.MustCompile(`^\w+://`)

// DeriveWSBase normalizes a configured base URL into a WebSocket origin:
// https becomes wss, http becomes ws, existing ws/wss schemes pass through,
// anything else defaults to wss. A bare host is assumed to be https. Any
// trailing slash on the path is stripped so the socket path can be appended
// verbatim.
func DeriveWSBase(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("chat: empty base URL")
	}
	if !schemePattern.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("chat: parse base URL %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("chat: base URL %q has no host", raw)
	}

	path := strings.TrimSuffix(parsed.Path, "/")

	var scheme string
	switch parsed.Scheme {
	case "ws", "wss":
		scheme = parsed.Scheme
	case "http":
		scheme = "ws"
	default:
		scheme = "wss"
	}

	return scheme + "://" + parsed.Host + path, nil
}
