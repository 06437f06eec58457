package parsers

import (
	"net/netip"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// isHostsLine reports whether fields look like "<ip> <name> [name...]".
func isHostsLine(fields []string) bool {
	if len(fields) < 2 {
		return false
	}
	_, err := netip.ParseAddr(fields[0])
	return err == nil
}

// parseHostsLine turns one /etc/hosts-style line into block rules for each
// listed name.
//
// Rules:
//   - Ignore the IP field
//   - Strip inline comments after '#'
//   - Skip wildcards, names starting with '.', and stock local names
//   - Canonicalize and validate each name
func parseHostsLine(line, source string) []domain.FilterRule {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if !isHostsLine(fields) {
		return nil
	}
	var out []domain.FilterRule
	for _, raw := range fields[1:] {
		if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
			continue
		}
		name := urlutil.CanonicalHost(raw)
		if _, local := localHostNames[name]; local {
			continue
		}
		if !isValidHost(name) {
			continue
		}
		r, err := domain.NewHostRule(name, domain.ActionBlock, source)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
