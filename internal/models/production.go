package models

import "time"

// Production is a show or project owned by one organization.
type Production struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role is a casting role within a production (not a permission level).
type Role struct {
	ID           string    `json:"id"`
	ProductionID string    `json:"production_id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProductionSummary is a production with its submission count.
type ProductionSummary struct {
	Production
	SubmissionCount int `json:"submission_count"`
}

// ProductionWithRoles is a production and its casting roles.
type ProductionWithRoles struct {
	Production
	Roles []Role `json:"roles"`
}

// RoleWithSubmissions is a casting role and the submissions made for it.
type RoleWithSubmissions struct {
	Role
	Submissions []Submission `json:"submissions"`
}
