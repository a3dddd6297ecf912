package models

import "time"

// Candidate is a person who applied at least once to an organization.
// At most one exists per organization and (case-insensitive) email.
type Candidate struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Phone          *string   `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CandidateSummary is a candidate with the number of submissions they made.
type CandidateSummary struct {
	Candidate
	SubmissionCount int `json:"submission_count"`
}

// Submission is one application event for one casting role. The contact fields are a
// snapshot of what was submitted and may diverge from the candidate row later.
type Submission struct {
	ID           string    `json:"id"`
	ProductionID string    `json:"production_id"`
	RoleID       string    `json:"role_id"`
	CandidateID  string    `json:"candidate_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	ResumeURL    *string   `json:"resume_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
