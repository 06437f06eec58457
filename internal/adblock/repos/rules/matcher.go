package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// separatorClass stands in for the filter-list '^' placeholder: any
// character that cannot be part of a host, path segment or parameter value.
const separatorClass = "[/?&=:;,|@+~#]"

// target is a request URL split once for every matcher.
type target struct {
	url  string // lowercased
	host string
	path string // path, query and fragment
}

// matcher is a compiled non-host rule.
type matcher struct {
	rule  domain.FilterRule
	match func(t target) bool
}

// compile turns a pattern rule into a matcher. Host rules are served by the
// Store and are rejected here.
func compile(r domain.FilterRule) (matcher, error) {
	switch r.Kind {
	case domain.RuleHostPath:
		g, err := glob.Compile(globPattern(r.Pattern, true, r.MatchEnd))
		if err != nil {
			return matcher{}, err
		}
		host := r.Host
		return matcher{rule: r, match: func(t target) bool {
			return hostMatches(t.host, host) && g.Match(t.path)
		}}, nil
	case domain.RuleWildcard:
		g, err := glob.Compile(globPattern(r.Pattern, r.MatchStart, r.MatchEnd))
		if err != nil {
			return matcher{}, err
		}
		return matcher{rule: r, match: func(t target) bool { return g.Match(t.url) }}, nil
	case domain.RuleSubstring:
		p := r.Pattern
		switch {
		case r.MatchStart && r.MatchEnd:
			return matcher{rule: r, match: func(t target) bool { return t.url == p }}, nil
		case r.MatchStart:
			return matcher{rule: r, match: func(t target) bool { return strings.HasPrefix(t.url, p) }}, nil
		case r.MatchEnd:
			return matcher{rule: r, match: func(t target) bool { return strings.HasSuffix(t.url, p) }}, nil
		default:
			return matcher{rule: r, match: func(t target) bool { return strings.Contains(t.url, p) }}, nil
		}
	case domain.RuleRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return matcher{}, err
		}
		return matcher{rule: r, match: func(t target) bool { return re.MatchString(t.url) }}, nil
	default:
		return matcher{}, fmt.Errorf("rule kind %s has no pattern matcher", r.Kind)
	}
}

// globPattern translates filter-list wildcard syntax into a gobwas glob.
// Literal text is quoted, '*' stays a wildcard and '^' becomes a separator
// class, or any suffix when it ends the pattern.
func globPattern(p string, anchorStart, anchorEnd bool) string {
	var (
		b   strings.Builder
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			b.WriteString(glob.QuoteMeta(lit.String()))
			lit.Reset()
		}
	}
	if !anchorStart {
		b.WriteByte('*')
	}
	trailingStar := !anchorStart && p == ""
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '*':
			flush()
			b.WriteByte('*')
			trailingStar = true
			continue
		case c == '^' && i == len(p)-1:
			flush()
			b.WriteByte('*')
			trailingStar = true
			continue
		case c == '^':
			flush()
			b.WriteString(separatorClass)
		default:
			lit.WriteByte(c)
		}
		trailingStar = false
	}
	flush()
	if !anchorEnd && !trailingStar {
		b.WriteByte('*')
	}
	return b.String()
}

// hostMatches reports whether host is ruleHost or one of its subdomains.
func hostMatches(host, ruleHost string) bool {
	if host == ruleHost {
		return true
	}
	return strings.HasSuffix(host, ruleHost) && host[len(host)-len(ruleHost)-1] == '.'
}
