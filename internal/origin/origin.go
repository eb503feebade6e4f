// Package origin normalizes browser Origin headers and decides whether a
// signaling client may connect.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns its canonical
// form (scheme://host[:port], default ports stripped) plus the host[:port]
// portion for same-host comparisons.
//
// The opaque Origin value "null" is accepted and returned unchanged.
func NormalizeHeader(originHeader string) (normalizedOrigin, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHostPort(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may open a signaling session.
//
// With a non-empty allow-list every entry must be either "*" or a canonical
// origin as produced by NormalizeHeader. With an empty allow-list the policy
// is same-host: the origin's host[:port] must equal the request's Host
// header, treating default ports as absent.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	// The same-host comparison ignores scheme: behind a TLS-terminating proxy
	// the request arrives as http while the browser Origin says https.
	var scheme string
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" and anything non-canonical never matches a host.
		return false
	}

	canonicalRequestHost, ok := canonicalHostPort(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == canonicalRequestHost
}

// canonicalHostPort lower-cases the hostname, validates the port, drops the
// scheme's default port, and re-brackets IPv6 literals.
func canonicalHostPort(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority into hostname and optional port. IPv6
// literals lose their brackets; the port is returned unvalidated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		switch {
		case rest == "":
			return hostname, "", true
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return hostname, rest[1:], true
		default:
			return "", "", false
		}
	}

	idx := strings.IndexByte(authority, ':')
	if idx < 0 {
		return authority, "", true
	}
	if strings.IndexByte(authority[idx+1:], ':') >= 0 {
		// Unbracketed IPv6 literals are not valid authority syntax.
		return "", "", false
	}
	hostname, port = authority[:idx], authority[idx+1:]
	if hostname == "" || port == "" {
		return "", "", false
	}
	return hostname, port, true
}
