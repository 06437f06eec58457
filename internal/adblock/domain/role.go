package domain

import (
	"fmt"
	"strings"
)

// Role is the inferred purpose of a request. It only selects which blocking
// heuristic applies; it is never authoritative.
type Role uint8

const (
	RoleMainDocument Role = iota
	RoleSubDocument
	RoleScript
	RoleStylesheet
	RoleImage
	RoleDataFetch
	RoleOther
)

// String returns a stable string representation of the role, matching the
// resource type names used by filter list options.
func (r Role) String() string {
	switch r {
	case RoleMainDocument:
		return "main_frame"
	case RoleSubDocument:
		return "sub_frame"
	case RoleScript:
		return "script"
	case RoleStylesheet:
		return "stylesheet"
	case RoleImage:
		return "image"
	case RoleDataFetch:
		return "xmlhttprequest"
	case RoleOther:
		return "other"
	default:
		return fmt.Sprintf("Role(%d)", r)
	}
}

// ParseRole converts a role name (as produced by String) back into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "main_frame", "document":
		return RoleMainDocument, nil
	case "sub_frame", "subdocument":
		return RoleSubDocument, nil
	case "script":
		return RoleScript, nil
	case "stylesheet":
		return RoleStylesheet, nil
	case "image":
		return RoleImage, nil
	case "xmlhttprequest", "xhr":
		return RoleDataFetch, nil
	case "other":
		return RoleOther, nil
	default:
		return 0, fmt.Errorf("unsupported role: %q", s)
	}
}
