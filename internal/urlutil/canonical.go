package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidHostname is returned for input that does not name a host.
var ErrInvalidHostname = errors.New("invalid hostname")

// NormalizeHostname turns user input such as "HTTPS://Example.com:443/path"
// into the bare hostname the prober works with. The rules are:
//  1. An optional http or https scheme is dropped; any other scheme is rejected.
//  2. The result is lowercased.
//  3. Ports, paths, queries, fragments and a trailing dot are removed.
func NormalizeHostname(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidHostname
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHostname, err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidHostname, u.Scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || strings.ContainsAny(host, " /\\@") {
		return "", ErrInvalidHostname
	}
	return host, nil
}

// ParseWebhookURL validates an outbound webhook target. It must be an
// absolute http or https URL with a host.
func ParseWebhookURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("url must be an absolute http or https url")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url must have a host")
	}
	u.Fragment = ""
	return u, nil
}
