// Package id generates the opaque identifiers and slugs used across the service.
package id

import (
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	PrefixUser         = "user"
	PrefixOrganization = "org"
	PrefixMember       = "mem"
	PrefixInvitation   = "inv"
	PrefixProduction   = "prod"
	PrefixRole         = "role"
	PrefixCandidate    = "cand"
	PrefixSubmission   = "sub"
	PrefixExport       = "exp"
)

const (
	slugBaseMax   = 40
	slugSuffixLen = 8
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// New returns "<prefix>-<ulid>" in lower case, e.g. "cand-01hx3...".
func New(prefix string) string {
	u := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return u
	}
	return prefix + "-" + u
}

// Slug derives an organization slug from name plus a random suffix.
// The base keeps [a-z0-9-], trimmed of edge dashes and cut to 40 chars.
func Slug(name string) string {
	base := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	base = strings.Trim(base, "-")
	if len(base) > slugBaseMax {
		base = strings.TrimRight(base[:slugBaseMax], "-")
	}
	u := strings.ToLower(ulid.Make().String())
	suffix := u[len(u)-slugSuffixLen:]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
