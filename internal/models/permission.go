package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PermissionKind distinguishes short outings from home leave.
type PermissionKind string

const (
	PermissionOuting PermissionKind = "outing"
	PermissionHome   PermissionKind = "home"
)

// PermissionCategory selects the approval path.
type PermissionCategory string

const (
	CategoryNormal    PermissionCategory = "normal"
	CategoryEmergency PermissionCategory = "emergency"
)

// ApproverRole is a position in an approval path.
type ApproverRole string

const (
	ApproverFloorIncharge  ApproverRole = "floor-incharge"
	ApproverHostelIncharge ApproverRole = "hostel-incharge"
	ApproverWarden         ApproverRole = "warden"
)

// LevelCompleted is the current level of a request that cleared its whole path.
const LevelCompleted = "completed"

// ApproverRoleFromUserRole maps an account role onto its routing role.
func ApproverRoleFromUserRole(role UserRole) (ApproverRole, bool) {
	switch role {
	case RoleFloorIncharge:
		return ApproverFloorIncharge, true
	case RoleHostelIncharge:
		return ApproverHostelIncharge, true
	case RoleWarden:
		return ApproverWarden, true
	default:
		return "", false
	}
}

// Title renders the role for human facing texts.
func (r ApproverRole) Title() string {
	switch r {
	case ApproverFloorIncharge:
		return "Floor Incharge"
	case ApproverHostelIncharge:
		return "Hostel Incharge"
	case ApproverWarden:
		return "Warden"
	default:
		return string(r)
	}
}

// PermissionStatus is the lifecycle state of a request.
type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "pending"
	PermissionApproved PermissionStatus = "approved"
	PermissionDenied   PermissionStatus = "denied"
)

// Decision is an approver verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// PermissionPayload carries the kind specific request details.
type PermissionPayload struct {
	Purpose      string     `json:"purpose"`
	ParentPhone  string     `json:"parent_phone"`
	OutingDate   *time.Time `json:"outing_date,omitempty"`
	OutTime      string     `json:"out_time,omitempty"`
	ReturnTime   string     `json:"return_time,omitempty"`
	GoingDate    *time.Time `json:"going_date,omitempty"`
	IncomingDate *time.Time `json:"incoming_date,omitempty"`
	HomeTown     string     `json:"home_town,omitempty"`
}

// Value implements driver.Valuer.
func (p PermissionPayload) Value() (driver.Value, error) {
	return jsonValue(p)
}

// Scan implements sql.Scanner.
func (p *PermissionPayload) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// RoutingInfo records where the request was routed at creation time.
type RoutingInfo struct {
	Year               string `json:"year"`
	FloorInchargeEmail string `json:"floor_incharge_email"`
}

// Value implements driver.Valuer.
func (r RoutingInfo) Value() (driver.Value, error) {
	return jsonValue(r)
}

// Scan implements sql.Scanner.
func (r *RoutingInfo) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// ApprovalPath is the ordered list of roles a request must clear.
type ApprovalPath []ApproverRole

// Value implements driver.Valuer.
func (p ApprovalPath) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return jsonValue([]ApproverRole(p))
}

// Scan implements sql.Scanner.
func (p *ApprovalPath) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Index returns the position of role in the path or -1.
func (p ApprovalPath) Index(role ApproverRole) int {
	for i, r := range p {
		if r == role {
			return i
		}
	}
	return -1
}

// Contains reports whether the role appears in the path.
func (p ApprovalPath) Contains(role ApproverRole) bool {
	return p.Index(role) >= 0
}

// ApprovalEntry is one recorded decision.
type ApprovalEntry struct {
	Role          ApproverRole `json:"role"`
	ApproverID    string       `json:"approver_id"`
	ApproverEmail string       `json:"approver_email,omitempty"`
	Decision      Decision     `json:"decision"`
	Remarks       string       `json:"remarks,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

// ApprovalLog is the append-only decision history.
type ApprovalLog []ApprovalEntry

// Value implements driver.Valuer.
func (l ApprovalLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]ApprovalEntry(l))
}

// Scan implements sql.Scanner.
func (l *ApprovalLog) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// DecidedBy reports whether the approver already recorded a decision.
func (l ApprovalLog) DecidedBy(approverID string) bool {
	for _, entry := range l {
		if entry.ApproverID == approverID {
			return true
		}
	}
	return false
}

// CredentialDirection identifies which gate crossing a credential covers.
type CredentialDirection string

const (
	DirectionOutgoing CredentialDirection = "outgoing"
	DirectionReturn   CredentialDirection = "return"
)

// Credential is a signed gate pass.
type Credential struct {
	Direction  CredentialDirection `json:"direction"`
	Token      string              `json:"token"`
	IssuedAt   time.Time           `json:"issued_at"`
	ValidFrom  time.Time           `json:"valid_from"`
	ValidUntil time.Time           `json:"valid_until"`
	ConsumedAt *time.Time          `json:"consumed_at,omitempty"`
	PassFile   string              `json:"pass_file,omitempty"`
}

// CredentialPair holds both passes issued for an approved request.
type CredentialPair struct {
	Outgoing Credential `json:"outgoing"`
	Return   Credential `json:"return"`
}

// Value implements driver.Valuer.
func (c CredentialPair) Value() (driver.Value, error) {
	return jsonValue(c)
}

// Scan implements sql.Scanner.
func (c *CredentialPair) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Get returns the credential for a direction.
func (c *CredentialPair) Get(direction CredentialDirection) (*Credential, bool) {
	if c == nil {
		return nil, false
	}
	switch direction {
	case DirectionOutgoing:
		return &c.Outgoing, true
	case DirectionReturn:
		return &c.Return, true
	default:
		return nil, false
	}
}

// PermissionRequest is a student's outing or home permission.
type PermissionRequest struct {
	ID           string             `db:"id" json:"id"`
	Kind         PermissionKind     `db:"kind" json:"kind"`
	StudentID    string             `db:"student_id" json:"student_id"`
	HostelBlock  string             `db:"hostel_block" json:"hostel_block"`
	Floor        string             `db:"floor" json:"floor"`
	Category     PermissionCategory `db:"category" json:"category"`
	Payload      PermissionPayload  `db:"payload" json:"payload"`
	RoutedTo     RoutingInfo        `db:"routed_to" json:"routed_to"`
	Path         ApprovalPath       `db:"path" json:"path"`
	CurrentLevel string             `db:"current_level" json:"current_level"`
	Status       PermissionStatus   `db:"status" json:"status"`
	ApprovalLog  ApprovalLog        `db:"approval_log" json:"approval_log"`
	Credentials  *CredentialPair    `db:"credentials" json:"credentials,omitempty"`
	Version      int                `db:"version" json:"version"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the request left the pending state.
func (r *PermissionRequest) IsTerminal() bool {
	return r.Status != PermissionPending
}

// ExpectedRole returns the role that must decide next.
func (r *PermissionRequest) ExpectedRole() (ApproverRole, bool) {
	if r.IsTerminal() || r.CurrentLevel == LevelCompleted {
		return "", false
	}
	role := ApproverRole(r.CurrentLevel)
	if !r.Path.Contains(role) {
		return "", false
	}
	return role, true
}

// NeedsCredentials reports whether the request is approved but has no passes yet.
func (r *PermissionRequest) NeedsCredentials() bool {
	return r.Status == PermissionApproved && r.CurrentLevel == LevelCompleted && r.Credentials == nil
}

// ReturnBase is the moment the student declared they will be back.
func (r *PermissionRequest) ReturnBase() (time.Time, error) {
	switch r.Kind {
	case PermissionHome:
		if r.Payload.IncomingDate == nil {
			return time.Time{}, fmt.Errorf("home request %s has no return date", r.ID)
		}
		return *r.Payload.IncomingDate, nil
	case PermissionOuting:
		if r.Payload.OutingDate == nil {
			return time.Time{}, fmt.Errorf("outing request %s has no outing date", r.ID)
		}
		return combineDateAndClock(*r.Payload.OutingDate, r.Payload.ReturnTime)
	default:
		return time.Time{}, fmt.Errorf("unknown permission kind %q", r.Kind)
	}
}

// Clone returns a deep copy safe to mutate.
func (r *PermissionRequest) Clone() *PermissionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Path = append(ApprovalPath(nil), r.Path...)
	cp.ApprovalLog = append(ApprovalLog(nil), r.ApprovalLog...)
	if r.Credentials != nil {
		creds := *r.Credentials
		cp.Credentials = &creds
	}
	return &cp
}

// PermissionScopeFilter narrows approver listings.
type PermissionScopeFilter struct {
	Blocks     []string
	Floors     []string
	Categories []PermissionCategory
	Level      string
	DecidedBy  string
	Limit      int
}

// PermissionStats summarises a listing.
type PermissionStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Total    int `json:"total"`
}

func combineDateAndClock(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return day, nil
	}
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

func jsonValue(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
