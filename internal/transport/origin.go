package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins canonicalizes the configured origin list into a lookup
// set. A bare "*" entry allows every origin.
func normalizeOrigins(origins []string, logger *slog.Logger) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		canonical, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid configured origin", "origin", origin)
			continue
		}
		normalized[canonical] = struct{}{}
	}
	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	canonical, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	if h.allowAllOrigins {
		return true
	}
	if _, ok := h.allowedOrigins[canonical]; ok {
		return true
	}
	h.logger.Warn("blocked connection from disallowed origin", "origin", header)
	return false
}
