package origin

import "testing"

type normalizeVector struct {
	name             string
	rawOriginHeader  string
	normalizedOrigin string
	expectError      bool
}

type allowVector struct {
	name            string
	allowedOrigins  []string
	requestHost     string
	rawOriginHeader string
	expectAllowed   bool
}

var normalizeVectors = []normalizeVector{
	{name: "plain https", rawOriginHeader: "https://example.com", normalizedOrigin: "https://example.com"},
	{name: "uppercase scheme and host", rawOriginHeader: "HTTPS://Example.COM", normalizedOrigin: "https://example.com"},
	{name: "default https port stripped", rawOriginHeader: "https://example.com:443", normalizedOrigin: "https://example.com"},
	{name: "default http port stripped", rawOriginHeader: "http://example.com:80", normalizedOrigin: "http://example.com"},
	{name: "non-default port kept", rawOriginHeader: "http://localhost:5173", normalizedOrigin: "http://localhost:5173"},
	{name: "trailing slash tolerated", rawOriginHeader: "https://example.com/", normalizedOrigin: "https://example.com"},
	{name: "ipv6 literal", rawOriginHeader: "http://[::FFFF:192.0.2.1]:8080", normalizedOrigin: "http://[::ffff:192.0.2.1]:8080"},
	{name: "null origin", rawOriginHeader: "null", normalizedOrigin: "null"},
	{name: "surrounding whitespace", rawOriginHeader: "  https://example.com  ", normalizedOrigin: "https://example.com"},

	{name: "empty", rawOriginHeader: "", expectError: true},
	{name: "whitespace only", rawOriginHeader: "   ", expectError: true},
	{name: "missing scheme", rawOriginHeader: "example.com", expectError: true},
	{name: "ftp scheme", rawOriginHeader: "ftp://example.com", expectError: true},
	{name: "ws scheme", rawOriginHeader: "ws://example.com", expectError: true},
	{name: "path", rawOriginHeader: "https://example.com/path", expectError: true},
	{name: "query", rawOriginHeader: "https://example.com?q=1", expectError: true},
	{name: "fragment", rawOriginHeader: "https://example.com#frag", expectError: true},
	{name: "credentials", rawOriginHeader: "https://user@example.com", expectError: true},
	{name: "port zero", rawOriginHeader: "https://example.com:0", expectError: true},
	{name: "port out of range", rawOriginHeader: "https://example.com:70000", expectError: true},
	{name: "unbracketed ipv6", rawOriginHeader: "http://::1:8080", expectError: true},
	{name: "comma-joined origins", rawOriginHeader: "https://example.com,https://evil.example.com", expectError: true},
}

var allowVectors = []allowVector{
	{name: "same host allowed by default", rawOriginHeader: "https://app.example.com", requestHost: "app.example.com", expectAllowed: true},
	{name: "default port on host header equivalent", rawOriginHeader: "https://app.example.com", requestHost: "app.example.com:443", expectAllowed: true},
	{name: "different host rejected by default", rawOriginHeader: "https://app.example.com", requestHost: "other.example.com", expectAllowed: false},
	{name: "different port rejected by default", rawOriginHeader: "https://app.example.com", requestHost: "app.example.com:8443", expectAllowed: false},
	{name: "null rejected by default", rawOriginHeader: "null", requestHost: "app.example.com", expectAllowed: false},
	{name: "star allows anything", rawOriginHeader: "https://elsewhere.example.com", requestHost: "app.example.com", allowedOrigins: []string{"*"}, expectAllowed: true},
	{name: "exact allow-list match", rawOriginHeader: "https://app.example.com", requestHost: "media.example.com", allowedOrigins: []string{"https://app.example.com"}, expectAllowed: true},
	{name: "allow-list mismatch", rawOriginHeader: "https://app.example.com", requestHost: "media.example.com", allowedOrigins: []string{"https://other.example.com"}, expectAllowed: false},
	{name: "null allowed when listed", rawOriginHeader: "null", requestHost: "media.example.com", allowedOrigins: []string{"null"}, expectAllowed: true},
}

func TestOriginVectors(t *testing.T) {
	for _, v := range normalizeVectors {
		t.Run("normalize/"+v.name, func(t *testing.T) {
			normalized, _, ok := NormalizeHeader(v.rawOriginHeader)
			if v.expectError {
				if ok {
					t.Fatalf("expected ok=false, got ok=true (normalized=%q)", normalized)
				}
				return
			}
			if !ok {
				t.Fatalf("expected ok=true, got ok=false")
			}
			if normalized != v.normalizedOrigin {
				t.Fatalf("normalized=%q, want %q", normalized, v.normalizedOrigin)
			}
		})
	}

	for _, v := range allowVectors {
		t.Run("allow/"+v.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(v.rawOriginHeader)
			allowed := false
			if ok {
				allowed = IsAllowed(normalized, host, v.requestHost, v.allowedOrigins)
			}
			if allowed != v.expectAllowed {
				t.Fatalf("allowed=%v, want %v", allowed, v.expectAllowed)
			}
		})
	}
}
