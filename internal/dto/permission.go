package dto

import (
	"github.com/noah-isme/hostel-permit-api/internal/models"
)

// SubmitPermissionRequest is the student payload for a new outing or home request.
// Dates use YYYY-MM-DD and times HH:MM.
type SubmitPermissionRequest struct {
	Kind         models.PermissionKind     `json:"kind" validate:"required,oneof=outing home"`
	Category     models.PermissionCategory `json:"category" validate:"omitempty,oneof=normal emergency"`
	Purpose      string                    `json:"purpose" validate:"required,max=500"`
	ParentPhone  string                    `json:"parent_phone" validate:"omitempty,max=20"`
	OutingDate   string                    `json:"outing_date" validate:"required_if=Kind outing"`
	OutTime      string                    `json:"out_time" validate:"required_if=Kind outing"`
	ReturnTime   string                    `json:"return_time" validate:"required_if=Kind outing"`
	GoingDate    string                    `json:"going_date" validate:"required_if=Kind home"`
	IncomingDate string                    `json:"incoming_date" validate:"required_if=Kind home"`
	HomeTown     string                    `json:"home_town" validate:"max=120"`
}

// DecisionRequest carries an approver verdict.
type DecisionRequest struct {
	Decision models.Decision `json:"decision" validate:"required,oneof=approve deny"`
	Remarks  string          `json:"remarks" validate:"max=500"`
}

// StudentDashboard lists a student's own requests.
type StudentDashboard struct {
	Requests []models.PermissionRequest `json:"requests"`
	Stats    models.PermissionStats     `json:"stats"`
}

// QueueItem is one request on an approver dashboard.
type QueueItem struct {
	Request    models.PermissionRequest `json:"request"`
	Student    models.StudentSummary    `json:"student"`
	Actionable bool                     `json:"actionable"`
}

// ApproverDashboard lists the requests visible to an approver.
type ApproverDashboard struct {
	Approver models.Approver        `json:"approver"`
	Items    []QueueItem            `json:"items"`
	Stats    models.PermissionStats `json:"stats"`
}

// PassLinks maps a credential direction to its download token.
type PassLinks struct {
	RequestID string            `json:"request_id"`
	Links     map[string]string `json:"links"`
	ExpiresAt int64             `json:"expires_at"`
}

// PassInspection is the read-only view of a presented pass token.
type PassInspection struct {
	RequestID    string                  `json:"request_id"`
	StudentID    string                  `json:"student_id"`
	Direction    string                  `json:"direction"`
	ValidFrom    int64                   `json:"valid_from"`
	ValidUntil   int64                   `json:"valid_until"`
	WithinWindow bool                    `json:"within_window"`
	Status       models.PermissionStatus `json:"status"`
	Student      models.StudentSummary   `json:"student"`
}
