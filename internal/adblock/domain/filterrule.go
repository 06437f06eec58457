package domain

import (
	"fmt"
	"strings"
)

// RuleAction says what a matching rule does to a request.
type RuleAction uint8

const (
	// ActionBlock suppresses matching requests.
	ActionBlock RuleAction = iota
	// ActionAllow is an exception ("@@") that overrides block rules.
	ActionAllow
)

func (a RuleAction) String() string {
	switch a {
	case ActionBlock:
		return "block"
	case ActionAllow:
		return "allow"
	default:
		return fmt.Sprintf("RuleAction(%d)", a)
	}
}

// RuleKind defines how a rule matches URLs.
//
// host      - "||host^": the host and any subdomain
// host_path - "||host/path": host as above plus a path pattern
// wildcard  - pattern with '*' or '^' over the whole URL
// substring - plain text anywhere in the URL
// regex     - "/re/" regular expression over the whole URL
type RuleKind uint8

const (
	RuleHost RuleKind = iota
	RuleHostPath
	RuleWildcard
	RuleSubstring
	RuleRegex
)

// String returns a stable string representation of the rule kind.
func (k RuleKind) String() string {
	switch k {
	case RuleHost:
		return "host"
	case RuleHostPath:
		return "host_path"
	case RuleWildcard:
		return "wildcard"
	case RuleSubstring:
		return "substring"
	case RuleRegex:
		return "regex"
	default:
		return fmt.Sprintf("RuleKind(%d)", k)
	}
}

// ParseRuleKind converts a string into a RuleKind (case-insensitive).
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return RuleHost, nil
	case "host_path":
		return RuleHostPath, nil
	case "wildcard":
		return RuleWildcard, nil
	case "substring":
		return RuleSubstring, nil
	case "regex":
		return RuleRegex, nil
	default:
		return 0, fmt.Errorf("unsupported RuleKind: %q", s)
	}
}

// FilterRule is one parsed line of a filter list.
//
// Notes:
// - Host is canonical (lowercase, no trailing dot) and only set for host kinds.
// - Pattern is lowercased for every kind except regex, which keeps its source
//   and is compiled case-insensitively.
// - MatchStart/MatchEnd carry the '|' anchors of wildcard and substring rules.
type FilterRule struct {
	Kind       RuleKind
	Action     RuleAction
	Host       string
	Pattern    string
	MatchStart bool
	MatchEnd   bool
	Source     string // filter list the rule came from
}

// NewHostRule builds a host rule for host and its subdomains.
func NewHostRule(host string, action RuleAction, source string) (FilterRule, error) {
	r := FilterRule{Kind: RuleHost, Action: action, Host: canonicalRuleHost(host), Source: source}
	if err := r.Validate(); err != nil {
		return FilterRule{}, err
	}
	return r, nil
}

// Validate checks the FilterRule for required fields and supported values.
func (r FilterRule) Validate() error {
	switch r.Kind {
	case RuleHost:
		if r.Host == "" {
			return fmt.Errorf("host rule must have a host")
		}
	case RuleHostPath:
		if r.Host == "" {
			return fmt.Errorf("host_path rule must have a host")
		}
		if r.Pattern == "" {
			return fmt.Errorf("host_path rule must have a path pattern")
		}
	case RuleWildcard, RuleSubstring, RuleRegex:
		if r.Pattern == "" {
			return fmt.Errorf("%s rule must have a pattern", r.Kind)
		}
	default:
		return fmt.Errorf("unsupported RuleKind: %d", r.Kind)
	}
	switch r.Action {
	case ActionBlock, ActionAllow:
	default:
		return fmt.Errorf("unsupported RuleAction: %d", r.Action)
	}
	return nil
}

// IsException reports whether the rule is an allow ("@@") rule.
func (r FilterRule) IsException() bool { return r.Action == ActionAllow }

// String renders the rule back into filter list syntax.
func (r FilterRule) String() string {
	var b strings.Builder
	if r.Action == ActionAllow {
		b.WriteString("@@")
	}
	switch r.Kind {
	case RuleHost:
		b.WriteString("||" + r.Host + "^")
	case RuleHostPath:
		b.WriteString("||" + r.Host + r.Pattern)
	case RuleRegex:
		b.WriteString("/" + r.Pattern + "/")
	default:
		if r.MatchStart {
			b.WriteByte('|')
		}
		b.WriteString(r.Pattern)
		if r.MatchEnd {
			b.WriteByte('|')
		}
	}
	return b.String()
}

func canonicalRuleHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimRight(h, ".")
}
