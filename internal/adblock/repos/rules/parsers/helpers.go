package parsers

import (
	"strings"
)

// separators that open a cosmetic or scriptlet rule; none of them block requests.
var cosmeticMarkers = []string{"##", "#@#", "#?#", "#$#", "#%#", "#@?#", "#@$#", "#@%#", "$$", "$@$"}

// options that change how a request is handled instead of blocking it, or
// only affect cosmetic filtering. Rules carrying them are skipped.
var modifierOptions = map[string]struct{}{
	"badfilter":     {},
	"removeparam":   {},
	"csp":           {},
	"replace":       {},
	"cookie":        {},
	"removeheader":  {},
	"redirect-rule": {},
	"permissions":   {},
	"hls":           {},
	"jsonprune":     {},
	"urltransform":  {},
	"stealth":       {},
	"content":       {},
	"elemhide":      {},
	"ehide":         {},
	"generichide":   {},
	"ghide":         {},
	"specifichide":  {},
	"shide":         {},
	"genericblock":  {},
	"jsinject":      {},
	"extension":     {},
}

// hosts-file names that are part of every stock hosts file.
var localHostNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

func stripLineBOM(s string) string { return strings.TrimPrefix(s, "\uFEFF") }

// isComment reports whether a trimmed line is a comment or list header.
func isComment(line string) bool {
	return strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") ||
		(strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "##"))
}

func isCosmetic(line string) bool {
	for _, m := range cosmeticMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// splitOptions separates a rule from its "$option,option" suffix.
func splitOptions(line string) (pattern string, opts []string) {
	idx := strings.LastIndexByte(line, '$')
	if idx < 0 {
		return line, nil
	}
	return line[:idx], strings.Split(line[idx+1:], ",")
}

// hasModifierOption reports whether any option turns the rule into something
// other than a plain block or allow.
func hasModifierOption(opts []string) bool {
	for _, o := range opts {
		name := strings.ToLower(strings.TrimSpace(o))
		name = strings.TrimPrefix(name, "~")
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		if _, ok := modifierOptions[name]; ok {
			return true
		}
	}
	return false
}

// isValidHost checks whether name looks like a host name:
//   - at most 255 characters
//   - at least two labels, each 1 to 63 characters
//   - only letters, digits, '-' and '_'
func isValidHost(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i := 0; i < len(label); i++ {
			if !isHostByte(label[i]) {
				return false
			}
		}
	}
	return true
}

func isHostByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
