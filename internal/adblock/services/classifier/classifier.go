// Package classifier infers the resource role of an intercepted request.
// The result only selects a blocking heuristic tier; a wrong guess makes
// blocking more or less strict but never fails.
package classifier

import (
	"regexp"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// imageExtPattern matches an image extension anywhere in the URL, so
// "photo.png?w=300" counts as an image.
var imageExtPattern = regexp.MustCompile(`\.(jpg|jpeg|png|gif|webp|svg)`)

// Classify returns the role for r. Headers win over URL shape: first the
// Accept header, then X-Requested-With, then case-insensitive URL
// heuristics. Anything unrecognised is treated as a main document.
func Classify(r *domain.Request) domain.Role {
	if r == nil {
		return domain.RoleMainDocument
	}
	if role, ok := fromAccept(r); ok {
		return role
	}
	if v, ok := r.Header(domain.HeaderRequestedWith); ok && v == domain.RequestedWithXHR {
		return domain.RoleDataFetch
	}
	return FromURL(r.URL)
}

// FromURL applies the URL-only heuristics. It is what a request without
// headers falls back to.
func FromURL(rawURL string) domain.Role {
	u := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(u, ".css"):
		return domain.RoleStylesheet
	case strings.HasSuffix(u, ".js") || strings.Contains(u, "javascript"):
		return domain.RoleScript
	case imageExtPattern.MatchString(u):
		return domain.RoleImage
	case strings.Contains(u, "ajax") || strings.Contains(u, "api/"):
		return domain.RoleDataFetch
	default:
		return domain.RoleMainDocument
	}
}

func fromAccept(r *domain.Request) (domain.Role, bool) {
	accept, ok := r.Header(domain.HeaderAccept)
	if !ok {
		return 0, false
	}
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "text/html"):
		return domain.RoleMainDocument, true
	case strings.Contains(accept, "text/css"):
		return domain.RoleStylesheet, true
	case strings.Contains(accept, "application/javascript"), strings.Contains(accept, "text/javascript"):
		return domain.RoleScript, true
	case strings.Contains(accept, "image/"):
		return domain.RoleImage, true
	}
	// an Accept header we don't recognise (e.g. "*/*") falls through
	return 0, false
}
