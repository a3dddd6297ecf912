package models

import (
	"strings"
	"time"
)

// Organization represents a tenant. It owns productions and candidates.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgRole is the role of a user in an organization.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// NormalizeOrgRole lower-cases and trims s. The result may still be outside the hierarchy.
func NormalizeOrgRole(s string) OrgRole {
	return OrgRole(strings.ToLower(strings.TrimSpace(s)))
}

// Rank orders roles owner > admin > member. Unknown roles rank 0 and never satisfy AtLeast.
func (r OrgRole) Rank() int {
	switch r {
	case OrgRoleOwner:
		return 3
	case OrgRoleAdmin:
		return 2
	case OrgRoleMember:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r OrgRole) Valid() bool { return r.Rank() > 0 }

// AtLeast reports whether r is min or higher in the hierarchy.
func (r OrgRole) AtLeast(min OrgRole) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// Assignable reports whether r can be granted through invite or role change.
// Ownership only moves through a transfer.
func (r OrgRole) Assignable() bool {
	return r == OrgRoleAdmin || r == OrgRoleMember
}

// Member links a user to an organization with a role.
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           OrgRole   `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberDetail is a member row joined with the user's contact details.
type MemberDetail struct {
	Member
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OrganizationMembership is an organization seen from one of its members.
type OrganizationMembership struct {
	Organization
	Role OrgRole `json:"role"`
}

// InvitationStatus is the state of an invitation record.
type InvitationStatus string

// InvitationAccepted is the only status written: invitations are accepted on creation.
const InvitationAccepted InvitationStatus = "accepted"

// InvitationTTL is the nominal lifetime recorded on an invitation.
const InvitationTTL = 48 * time.Hour

// Invitation is the audit record of an invite.
type Invitation struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Email          string           `json:"email"`
	Role           OrgRole          `json:"role"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	InviterID      string           `json:"inviter_id"`
	CreatedAt      time.Time        `json:"created_at"`
}
