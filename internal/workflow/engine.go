package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

// ErrInvariant marks a request whose stored state breaks the workflow rules.
var ErrInvariant = errors.New("permission request invariant violated")

// Draft is everything needed to open a new request.
type Draft struct {
	ID       string
	Kind     models.PermissionKind
	Category models.PermissionCategory
	Payload  models.PermissionPayload
	Student  *models.Student
	Route    Route
	At       time.Time
}

// NewRequest opens a request pending at the first role of its route.
func NewRequest(d Draft) (*models.PermissionRequest, error) {
	if d.Student == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	if d.Kind != models.PermissionOuting && d.Kind != models.PermissionHome {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown permission kind %q", d.Kind))
	}
	if len(d.Route.Path) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "route has no approvers")
	}
	req := &models.PermissionRequest{
		ID:           d.ID,
		Kind:         d.Kind,
		StudentID:    d.Student.ID,
		HostelBlock:  d.Student.HostelBlock,
		Floor:        d.Student.Floor,
		Category:     d.Category,
		Payload:      d.Payload,
		RoutedTo:     d.Route.RoutedTo,
		Path:         append(models.ApprovalPath(nil), d.Route.Path...),
		CurrentLevel: string(d.Route.Path[0]),
		Status:       models.PermissionPending,
		ApprovalLog:  models.ApprovalLog{},
		Version:      1,
		CreatedAt:    d.At,
		UpdatedAt:    d.At,
	}
	if err := Validate(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "request cannot be routed")
	}
	return req, nil
}

// Action is one approver verdict.
type Action struct {
	Approver *models.Approver
	Decision models.Decision
	Remarks  string
	At       time.Time
}

// Outcome is the next state produced by Apply. The input request is left untouched.
type Outcome struct {
	Request       *models.PermissionRequest
	Entry         models.ApprovalEntry
	PreviousLevel string
	PrevVersion   int
}

// Approved reports whether the decision cleared the last role.
func (o *Outcome) Approved() bool {
	return o.Request.Status == models.PermissionApproved
}

// Denied reports whether the decision rejected the request.
func (o *Outcome) Denied() bool {
	return o.Request.Status == models.PermissionDenied
}

// EventType names the broadcast for this outcome.
func (o *Outcome) EventType() models.PermissionEventType {
	switch {
	case o.Approved():
		return models.EventPermissionApproved
	case o.Denied():
		return models.EventPermissionDenied
	default:
		return models.EventPermissionUpdated
	}
}

// Apply checks the action against the request and returns the next state.
//
// The approver must cover the student's block (and floor, for floor
// incharges) and hold a role on the path, otherwise Forbidden. Only then does
// the request state count: a terminal request or a role already passed yields
// Conflict and a role not yet reached yields Forbidden.
func Apply(req *models.PermissionRequest, act Action) (*Outcome, error) {
	if req == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "permission request not found")
	}
	if act.Decision != models.DecisionApprove && act.Decision != models.DecisionDeny {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be approve or deny")
	}
	if act.Approver == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "approver is required")
	}
	if err := Validate(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "permission request is in an invalid state")
	}
	if !act.Approver.Covers(req.HostelBlock, req.Floor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "approver scope does not cover this student")
	}
	roleIdx := req.Path.Index(act.Approver.Role)
	if roleIdx < 0 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is not on this request's approval path", act.Approver.Role))
	}
	if req.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("permission request already %s", req.Status))
	}
	levelIdx := len(req.ApprovalLog)
	if roleIdx < levelIdx {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s already decided this request", act.Approver.Role))
	}
	if roleIdx > levelIdx {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("request is awaiting %s", req.CurrentLevel))
	}

	next := req.Clone()
	entry := models.ApprovalEntry{
		Role:          act.Approver.Role,
		ApproverID:    act.Approver.ID,
		ApproverEmail: act.Approver.Email,
		Decision:      act.Decision,
		Remarks:       strings.TrimSpace(act.Remarks),
		DecidedAt:     act.At,
	}
	next.ApprovalLog = append(next.ApprovalLog, entry)
	switch {
	case act.Decision == models.DecisionDeny:
		next.Status = models.PermissionDenied
	case roleIdx == len(req.Path)-1:
		next.Status = models.PermissionApproved
		next.CurrentLevel = models.LevelCompleted
	default:
		next.CurrentLevel = string(req.Path[roleIdx+1])
	}
	next.Version = req.Version + 1
	next.UpdatedAt = act.At

	if err := Validate(next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "transition produced an invalid state")
	}
	return &Outcome{
		Request:       next,
		Entry:         entry,
		PreviousLevel: req.CurrentLevel,
		PrevVersion:   req.Version,
	}, nil
}

// Validate checks every structural rule of a stored request.
func Validate(req *models.PermissionRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvariant)
	}
	if len(req.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvariant)
	}
	seen := make(map[models.ApproverRole]struct{}, len(req.Path))
	for _, role := range req.Path {
		if _, dup := seen[role]; dup {
			return fmt.Errorf("%w: role %s repeated in path", ErrInvariant, role)
		}
		seen[role] = struct{}{}
	}
	if req.Category == models.CategoryEmergency && req.Path.Contains(models.ApproverFloorIncharge) {
		return fmt.Errorf("%w: emergency path includes floor incharge", ErrInvariant)
	}
	if len(req.ApprovalLog) > len(req.Path) {
		return fmt.Errorf("%w: more decisions than roles", ErrInvariant)
	}
	for i, entry := range req.ApprovalLog {
		if entry.Role != req.Path[i] {
			return fmt.Errorf("%w: decision %d by %s, expected %s", ErrInvariant, i, entry.Role, req.Path[i])
		}
		if entry.Decision == models.DecisionDeny && i != len(req.ApprovalLog)-1 {
			return fmt.Errorf("%w: deny is not the last decision", ErrInvariant)
		}
	}

	decided := len(req.ApprovalLog)
	switch req.Status {
	case models.PermissionPending:
		if decided == len(req.Path) || req.CurrentLevel != string(req.Path[decided]) {
			return fmt.Errorf("%w: pending request at %q after %d decisions", ErrInvariant, req.CurrentLevel, decided)
		}
		if decided > 0 && req.ApprovalLog[decided-1].Decision != models.DecisionApprove {
			return fmt.Errorf("%w: pending request carries a deny", ErrInvariant)
		}
	case models.PermissionApproved:
		if req.CurrentLevel != models.LevelCompleted || decided != len(req.Path) {
			return fmt.Errorf("%w: approved request not completed", ErrInvariant)
		}
		if req.ApprovalLog[decided-1].Decision != models.DecisionApprove {
			return fmt.Errorf("%w: approved request ends with a deny", ErrInvariant)
		}
	case models.PermissionDenied:
		if decided == 0 || req.ApprovalLog[decided-1].Decision != models.DecisionDeny {
			return fmt.Errorf("%w: denied request without a deny decision", ErrInvariant)
		}
		if req.CurrentLevel != string(req.Path[decided-1]) {
			return fmt.Errorf("%w: denied request moved past the denying role", ErrInvariant)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, req.Status)
	}

	if req.Credentials != nil && !(req.Status == models.PermissionApproved && req.CurrentLevel == models.LevelCompleted) {
		return fmt.Errorf("%w: credentials on a request that is not approved", ErrInvariant)
	}
	return nil
}
