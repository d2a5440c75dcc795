package http

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a chat socket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{})}

	configured := 0
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		configured++
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			p.allowed[normalized] = struct{}{}
		}
	}

	if configured == 0 {
		p.allowAll = true
	}
	return p
}

// Allow accepts requests without an Origin header; those come from non-browser clients.
func (p *originPolicy) Allow(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
