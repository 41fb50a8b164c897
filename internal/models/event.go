package models

import "time"

// PermissionEventType names a workflow transition broadcast to listeners.
type PermissionEventType string

const (
	EventPermissionCreated  PermissionEventType = "permission-request-created"
	EventPermissionUpdated  PermissionEventType = "permission-request-updated"
	EventPermissionApproved PermissionEventType = "permission-request-approved"
	EventPermissionDenied   PermissionEventType = "permission-request-denied"
)

// EventStudentNotification is the live event pushed to a student's own channel.
const EventStudentNotification = "notification"

// PermissionEvent describes a committed transition.
type PermissionEvent struct {
	Type       PermissionEventType `json:"type"`
	Request    PermissionRequest   `json:"request"`
	Student    StudentSummary      `json:"student"`
	Entry      *ApprovalEntry      `json:"entry,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}
