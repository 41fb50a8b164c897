package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

const studentColumns = `id, full_name, roll_number, email, phone, parent_phone, hostel_block, floor, room_number, branch, semester, status, created_at, updated_at`

// StudentRepository manages persistence for hostel residents.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByIDs returns the students with the given ids keyed by id. Unknown ids are skipped.
func (r *StudentRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Student, error) {
	out := make(map[string]models.Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = ANY($1)`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	for _, s := range students {
		out[s.ID] = s
	}
	return out, nil
}

// Upsert inserts the student profile or refreshes it by id.
func (r *StudentRepository) Upsert(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentActive
	}
	const query = `INSERT INTO students (id, full_name, roll_number, email, phone, parent_phone, hostel_block, floor, room_number, branch, semester, status, created_at, updated_at)
	VALUES (:id, :full_name, :roll_number, :email, :phone, :parent_phone, :hostel_block, :floor, :room_number, :branch, :semester, :status, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, roll_number = EXCLUDED.roll_number, email = EXCLUDED.email,
		phone = EXCLUDED.phone, parent_phone = EXCLUDED.parent_phone, hostel_block = EXCLUDED.hostel_block, floor = EXCLUDED.floor,
		room_number = EXCLUDED.room_number, branch = EXCLUDED.branch, semester = EXCLUDED.semester, status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}
