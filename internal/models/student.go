package models

import "time"

// StudentStatus tracks whether a resident may still raise requests.
type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentGraduated StudentStatus = "graduated"
	StudentInactive  StudentStatus = "inactive"
)

// Student represents a hostel resident. ID matches the owning users row.
type Student struct {
	ID          string        `db:"id" json:"id"`
	FullName    string        `db:"full_name" json:"full_name"`
	RollNumber  string        `db:"roll_number" json:"roll_number"`
	Email       string        `db:"email" json:"email"`
	Phone       string        `db:"phone" json:"phone"`
	ParentPhone string        `db:"parent_phone" json:"parent_phone"`
	HostelBlock string        `db:"hostel_block" json:"hostel_block"`
	Floor       string        `db:"floor" json:"floor"`
	RoomNumber  string        `db:"room_number" json:"room_number"`
	Branch      string        `db:"branch" json:"branch"`
	Semester    int           `db:"semester" json:"semester"`
	Status      StudentStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// CanRequest reports whether the student may submit new permission requests.
func (s *Student) CanRequest() bool {
	return s != nil && s.Status == StudentActive
}

// Summary returns the subset of the profile carried on events and passes.
func (s *Student) Summary() StudentSummary {
	if s == nil {
		return StudentSummary{}
	}
	return StudentSummary{
		ID:          s.ID,
		FullName:    s.FullName,
		RollNumber:  s.RollNumber,
		ParentPhone: s.ParentPhone,
		HostelBlock: s.HostelBlock,
		Floor:       s.Floor,
		RoomNumber:  s.RoomNumber,
	}
}

// StudentSummary is a denormalised student snapshot.
type StudentSummary struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	RollNumber  string `json:"roll_number,omitempty"`
	ParentPhone string `json:"parent_phone,omitempty"`
	HostelBlock string `json:"hostel_block"`
	Floor       string `json:"floor"`
	RoomNumber  string `json:"room_number,omitempty"`
}
