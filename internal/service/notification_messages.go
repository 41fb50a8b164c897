package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

const messageDateLayout = "02 Jan 2006"

func kindTitle(kind models.PermissionKind) string {
	if kind == models.PermissionHome {
		return "Home"
	}
	return "Outing"
}

func kindPhrase(kind models.PermissionKind) string {
	if kind == models.PermissionHome {
		return "home permission"
	}
	return "outing permission"
}

// studentNotice builds the in-app notice for a decided request.
func studentNotice(event models.PermissionEvent) models.Notice {
	req := event.Request
	requestID := req.ID
	notice := models.Notice{
		UserID:    req.StudentID,
		Type:      "permission",
		RequestID: &requestID,
		CreatedAt: event.OccurredAt,
	}
	role := ""
	remarks := ""
	if event.Entry != nil {
		role = event.Entry.Role.Title()
		remarks = strings.TrimSpace(event.Entry.Remarks)
	}

	switch event.Type {
	case models.EventPermissionApproved:
		notice.Title = fmt.Sprintf("%s Permission Approved", kindTitle(req.Kind))
		notice.Message = fmt.Sprintf("Your %s request has been approved.", kindPhrase(req.Kind))
		if req.Credentials != nil {
			if req.Kind == models.PermissionHome {
				notice.Message += " QR codes have been generated successfully."
			} else {
				notice.Message += " QR code has been generated successfully."
			}
		}
	case models.EventPermissionDenied:
		notice.Title = fmt.Sprintf("%s Permission Denied", kindTitle(req.Kind))
		notice.Message = fmt.Sprintf("Your %s request has been denied by %s.", kindPhrase(req.Kind), role)
		if remarks != "" {
			notice.Message += " Remarks: " + remarks
		}
	default:
		notice.Title = fmt.Sprintf("%s Permission Updated", kindTitle(req.Kind))
		notice.Message = fmt.Sprintf("Your %s request has been approved by %s and moved to the next level.", kindPhrase(req.Kind), role)
	}
	return notice
}

func childLabel(student models.StudentSummary) string {
	name := strings.TrimSpace(student.FullName)
	if name == "" {
		name = "ward"
	}
	if roll := strings.TrimSpace(student.RollNumber); roll != "" {
		return fmt.Sprintf("%s (%s)", name, roll)
	}
	return name
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(messageDateLayout)
}

// approvalSMS is the parent text sent once a request is fully approved.
func approvalSMS(event models.PermissionEvent) string {
	req := event.Request
	p := req.Payload
	var b strings.Builder
	fmt.Fprintf(&b, "Your child %s ", childLabel(event.Student))
	if req.Kind == models.PermissionHome {
		b.WriteString("home permission request")
		if town := strings.TrimSpace(p.HomeTown); town != "" {
			fmt.Fprintf(&b, " to %s", town)
		}
		fmt.Fprintf(&b, " (%s to %s) has been fully approved. QR codes generated successfully.", formatDay(p.GoingDate), formatDay(p.IncomingDate))
		return b.String()
	}
	b.WriteString("outing request")
	if purpose := strings.TrimSpace(p.Purpose); purpose != "" {
		fmt.Fprintf(&b, " for %s", purpose)
	}
	fmt.Fprintf(&b, " on %s %s-%s has been fully approved. QR code generated successfully.", formatDay(p.OutingDate), p.OutTime, p.ReturnTime)
	return b.String()
}

// forwardedSMS tells the parent the floor incharge passed the request on.
func forwardedSMS(event models.PermissionEvent) string {
	noun := "outing request"
	if event.Request.Kind == models.PermissionHome {
		noun = "home permission request"
	}
	return fmt.Sprintf("Your child %s %s has been approved by Floor Incharge and forwarded for further approval.", childLabel(event.Student), noun)
}
