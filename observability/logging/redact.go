package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secret material in log lines.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys that carry credentials: the RPC bearer
// token, webhook signing secrets and keystore passphrases.
var sensitiveMarkers = []string{"secret", "token", "passphrase", "password", "authorization", "privatekey"}

// safeKeys contain a marker but name public ledger data.
var safeKeys = map[string]struct{}{
	"tokenid":  {},
	"tokenids": {},
	"tokenuri": {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", ".", "").Replace(strings.TrimSpace(key)))
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := normalizeKey(key)
	if _, ok := safeKeys[normalized]; ok {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue returns the placeholder for non-empty values. Empty values pass
// through so logs still show that a secret is unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField logs a configured secret. Only whether it is set is revealed.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// MaskURL keeps the scheme, host and path of raw and drops credentials and
// the query string, which webhook receivers often use for tokens.
func MaskURL(key, raw string) slog.Attr {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return slog.String(key, MaskValue(raw))
	}
	var b strings.Builder
	b.WriteString(parsed.Scheme)
	b.WriteString("://")
	if parsed.User != nil {
		b.WriteString(RedactedValue)
		b.WriteString("@")
	}
	b.WriteString(parsed.Host)
	b.WriteString(parsed.EscapedPath())
	if parsed.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(RedactedValue)
	}
	return slog.String(key, b.String())
}

// redactAttr masks string attributes logged under sensitive keys. It runs for
// every attribute written by loggers built with Setup.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
