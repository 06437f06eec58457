// Package parsers turns filter list text into domain.FilterRule values.
//
// Supported syntax: AdBlock-style network rules ("||host^", "@@" exceptions,
// '|' anchors, '*' and '^' wildcards, "/regex/") and hosts-file lines
// ("0.0.0.0 host"). Comments, cosmetic rules and request modifiers are
// skipped. Options after '$' are dropped.
package parsers

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// MaxLineLength bounds a single filter list line.
const MaxLineLength = 1 << 20

// skip reasons, reported in the parse summary
const (
	skipEmpty       = "empty"
	skipComment     = "comment"
	skipCosmetic    = "cosmetic"
	skipOptionsOnly = "options_only"
	skipModifier    = "modifier"
	skipTooBroad    = "too_broad"
	skipInvalid     = "invalid"
	skipDuplicate   = "duplicate"
)

// ParseFilterList parses a whole filter list. Unsupported lines are skipped;
// only a read error fails the parse. Rules are de-duplicated, preserving
// first-seen order, and attributed to source.
func ParseFilterList(r io.Reader, source string, logger log.Logger) ([]domain.FilterRule, error) {
	logger = log.OrNoop(logger)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLength)

	seen := make(map[string]struct{})
	skipped := make(map[string]int)
	out := make([]domain.FilterRule, 0, 256)

	logger.Debug(map[string]any{"source": source}, "parse_filter_list_start")

	emit := func(rule domain.FilterRule) {
		key := rule.String()
		if _, ok := seen[key]; ok {
			skipped[skipDuplicate]++
			return
		}
		seen[key] = struct{}{}
		out = append(out, rule)
	}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(stripLineBOM(scanner.Text()))

		if fields := strings.Fields(line); isHostsLine(fields) {
			hosts := parseHostsLine(line, source)
			if len(hosts) == 0 {
				skipped[skipInvalid]++
			}
			for _, h := range hosts {
				emit(h)
			}
			continue
		}

		rule, reason := parseRule(line, source)
		if reason != "" {
			skipped[reason]++
			if reason == skipInvalid {
				logger.Debug(map[string]any{"source": source, "line": lineNum, "raw": line}, "skip_invalid_rule")
			}
			continue
		}
		emit(rule)
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_filter_list_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "lines": lineNum, "count": len(out), "skipped": skipped}, "parse_filter_list_done")
	return out, nil
}

// ParseRule parses a single network rule. ok is false for anything that is
// not a usable block or exception rule.
func ParseRule(line, source string) (rule domain.FilterRule, ok bool) {
	line = strings.TrimSpace(stripLineBOM(line))
	if fields := strings.Fields(line); isHostsLine(fields) {
		rs := parseHostsLine(line, source)
		if len(rs) == 0 {
			return domain.FilterRule{}, false
		}
		return rs[0], true
	}
	rule, reason := parseRule(line, source)
	return rule, reason == ""
}

func parseRule(line, source string) (domain.FilterRule, string) {
	switch {
	case line == "":
		return domain.FilterRule{}, skipEmpty
	case isComment(line):
		return domain.FilterRule{}, skipComment
	case isCosmetic(line):
		return domain.FilterRule{}, skipCosmetic
	}

	rule := domain.FilterRule{Action: domain.ActionBlock, Source: source}
	if strings.HasPrefix(line, "@@") {
		rule.Action = domain.ActionAllow
		line = line[2:]
	}

	if re, opts, ok := splitRegex(line); ok {
		if hasModifierOption(opts) {
			return domain.FilterRule{}, skipModifier
		}
		rule.Kind = domain.RuleRegex
		rule.Pattern = re
		return validated(rule)
	}

	pattern, opts := splitOptions(line)
	if pattern == "" {
		return domain.FilterRule{}, skipOptionsOnly
	}
	if hasModifierOption(opts) {
		return domain.FilterRule{}, skipModifier
	}
	pattern = strings.ToLower(pattern)

	if rest, ok := strings.CutPrefix(pattern, "||"); ok {
		return hostAnchored(rule, rest)
	}

	if p, ok := strings.CutPrefix(pattern, "|"); ok {
		rule.MatchStart = true
		pattern = p
	}
	if p, ok := strings.CutSuffix(pattern, "|"); ok {
		rule.MatchEnd = true
		pattern = p
	}
	if strings.Trim(pattern, "*^") == "" {
		return domain.FilterRule{}, skipTooBroad
	}
	rule.Kind = domain.RuleSubstring
	if strings.ContainsAny(pattern, "*^") {
		rule.Kind = domain.RuleWildcard
	}
	rule.Pattern = pattern
	return validated(rule)
}

// hostAnchored handles the part of a "||" rule after the marker.
func hostAnchored(rule domain.FilterRule, rest string) (domain.FilterRule, string) {
	host, tail := rest, ""
	if end := strings.IndexAny(rest, "^/*|?:"); end >= 0 {
		host, tail = rest[:end], rest[end:]
	}
	host = urlutil.CanonicalHost(host)

	valid := isValidHost(host)
	if !valid && !strings.HasPrefix(tail, "*") {
		return domain.FilterRule{}, skipInvalid
	}
	if !valid || strings.HasPrefix(tail, ":") {
		// wildcarded or ported hosts: match the text anywhere in the URL
		if strings.Trim(rest, "*^|") == "" {
			return domain.FilterRule{}, skipTooBroad
		}
		rule.Kind = domain.RuleWildcard
		if p, ok := strings.CutSuffix(rest, "|"); ok {
			rule.MatchEnd = true
			rest = p
		}
		rule.Pattern = "://" + rest
		if !strings.ContainsAny(rest, "*^") {
			rule.Kind = domain.RuleSubstring
		}
		return validated(rule)
	}

	rule.Host = host
	switch tail {
	case "", "^", "^|", "|":
		rule.Kind = domain.RuleHost
		return validated(rule)
	}
	if p, ok := strings.CutSuffix(tail, "|"); ok {
		rule.MatchEnd = true
		tail = p
	}
	rule.Kind = domain.RuleHostPath
	rule.Pattern = tail
	return validated(rule)
}

// splitRegex recognises "/re/" and "/re/$options".
func splitRegex(line string) (re string, opts []string, ok bool) {
	if len(line) < 3 || line[0] != '/' {
		return "", nil, false
	}
	if line[len(line)-1] == '/' {
		return line[1 : len(line)-1], nil, true
	}
	if idx := strings.LastIndex(line, "/$"); idx > 0 {
		return line[1:idx], strings.Split(line[idx+2:], ","), true
	}
	return "", nil, false
}

func validated(rule domain.FilterRule) (domain.FilterRule, string) {
	if err := rule.Validate(); err != nil {
		return domain.FilterRule{}, skipInvalid
	}
	return rule, ""
}
