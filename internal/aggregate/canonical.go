package aggregate

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/idna"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalURL normalizes raw into the dataset's deduplication key: https by
// default, lower-case scheme, host (ASCII form) and path, no fragment, no
// default port, no trailing slash. The query string is kept as is.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("aggregate: empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "aggregate: parse %q", raw)
	}
	if u.Hostname() == "" {
		return "", eris.Errorf("aggregate: no host in %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host, err := idna.Lookup.ToASCII(strings.ToLower(u.Hostname()))
	if err != nil {
		return "", eris.Wrapf(err, "aggregate: host %q", u.Hostname())
	}
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host += ":" + port
	}

	path := strings.TrimRight(strings.ToLower(u.Path), "/")
	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: u.RawQuery,
	}
	return out.String(), nil
}

// HostOf returns the canonical host of raw, or "" when raw does not parse.
func HostOf(raw string) string {
	c, err := CanonicalURL(raw)
	if err != nil {
		return ""
	}
	u, err := url.Parse(c)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
