// Package urlutil holds the small URL and host helpers shared by the rule
// engine and the filter cache. Everything here is allocation-light because it
// runs on the request path.
package urlutil

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalHost returns a host name in canonical form: lowercased, trimmed,
// without trailing dots.
func CanonicalHost(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// Host extracts the canonical host from a raw URL. It tolerates missing
// schemes, userinfo, ports and bracketed IPv6 literals and never fails; an
// unparseable input yields "".
func Host(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		if end := strings.IndexByte(s, ']'); end > 0 {
			return strings.ToLower(s[1:end])
		}
		return ""
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return CanonicalHost(s)
}

// PathAndQuery returns everything after the host, starting at the first '/',
// '?' or '#'. A URL with no path yields "/".
func PathAndQuery(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		return s[i:]
	}
	return "/"
}

// ApexDomain returns the registrable domain (eTLD+1) for name, falling back
// to the canonical name when the public suffix list has no answer.
func ApexDomain(name string) string {
	name = CanonicalHost(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

// HostSuffixes returns host and each parent domain, most specific first,
// stopping at the registrable domain. "a.b.example.co.uk" yields
// ["a.b.example.co.uk", "b.example.co.uk", "example.co.uk"].
func HostSuffixes(host string) []string {
	host = CanonicalHost(host)
	if host == "" {
		return nil
	}
	apex := ApexDomain(host)
	out := []string{host}
	cur := host
	for cur != apex {
		i := strings.IndexByte(cur, '.')
		if i < 0 {
			break
		}
		cur = cur[i+1:]
		if cur == "" {
			break
		}
		out = append(out, cur)
	}
	return out
}

// LastSegment returns the trailing path segment of a URL with query and
// fragment removed. "https://x/a/b.txt?v=1" yields "b.txt".
func LastSegment(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.IndexByte(s, '/'); j >= 0 {
			s = s[j:]
		} else {
			return ""
		}
	}
	seg := path.Base(s)
	if seg == "/" || seg == "." {
		return ""
	}
	return seg
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
