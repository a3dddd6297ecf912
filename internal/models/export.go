package models

import "time"

// ExportStatus is the lifecycle state of a submissions export.
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// Export is an asynchronous CSV export of a production's submissions.
type Export struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	ProductionID   string       `json:"production_id"`
	RequestedBy    string       `json:"requested_by"`
	Status         ExportStatus `json:"status"`
	ObjectKey      *string      `json:"object_key,omitempty"`
	Error          *string      `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}
