package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin          UserRole = "admin"
	RoleStudent        UserRole = "student"
	RoleFloorIncharge  UserRole = "floor-incharge"
	RoleHostelIncharge UserRole = "hostel-incharge"
	RoleWarden         UserRole = "warden"
	RoleSecurity       UserRole = "security"
)

// User represents an application user stored in the users table.
// Students log in with the same table; their profile lives in students.
type User struct {
	ID             string         `db:"id" json:"id"`
	Email          string         `db:"email" json:"email"`
	PasswordHash   string         `db:"password_hash" json:"-"`
	FullName       string         `db:"full_name" json:"full_name"`
	Role           UserRole       `db:"role" json:"role"`
	AssignedBlocks pq.StringArray `db:"assigned_blocks" json:"assigned_blocks,omitempty"`
	AssignedFloors pq.StringArray `db:"assigned_floors" json:"assigned_floors,omitempty"`
	Active         bool           `db:"active" json:"active"`
	LastLogin      *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Approver converts the user into an acting approver when the role takes part in routing.
func (u *User) Approver() (*Approver, bool) {
	if u == nil || !u.Active {
		return nil, false
	}
	role, ok := ApproverRoleFromUserRole(u.Role)
	if !ok {
		return nil, false
	}
	return &Approver{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.FullName,
		Role:   role,
		Blocks: append([]string(nil), u.AssignedBlocks...),
		Floors: append([]string(nil), u.AssignedFloors...),
	}, true
}

// Approver is a staff member acting on a permission request.
type Approver struct {
	ID     string       `json:"id"`
	Email  string       `json:"email"`
	Name   string       `json:"name"`
	Role   ApproverRole `json:"role"`
	Blocks []string     `json:"blocks"`
	Floors []string     `json:"floors,omitempty"`
}

// Covers reports whether the approver's scope includes a student living on block/floor.
// Floors only restrict floor incharges.
func (a *Approver) Covers(block, floor string) bool {
	if a == nil {
		return false
	}
	inBlock := false
	for _, b := range a.Blocks {
		if SameBlock(b, block) {
			inBlock = true
			break
		}
	}
	if !inBlock {
		return false
	}
	if a.Role != ApproverFloorIncharge {
		return true
	}
	for _, f := range a.Floors {
		if strings.EqualFold(strings.TrimSpace(f), strings.TrimSpace(floor)) {
			return true
		}
	}
	return false
}

// BlockVariants expands the approver's blocks with their known naming aliases.
func (a *Approver) BlockVariants() []string {
	if a == nil {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, len(a.Blocks)*2)
	for _, b := range a.Blocks {
		for _, v := range BlockAliases(b) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

var blockAliasGroups = [][]string{
	{"W-Block", "Womens-Block"},
}

// BlockAliases returns every stored spelling of a hostel block.
func BlockAliases(block string) []string {
	trimmed := strings.TrimSpace(block)
	for _, group := range blockAliasGroups {
		for _, name := range group {
			if strings.EqualFold(name, trimmed) {
				return append([]string(nil), group...)
			}
		}
	}
	return []string{trimmed}
}

// SameBlock compares block names, treating aliases as equal.
func SameBlock(a, b string) bool {
	for _, alias := range BlockAliases(a) {
		if strings.EqualFold(alias, strings.TrimSpace(b)) {
			return true
		}
	}
	return false
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
