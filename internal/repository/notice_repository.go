package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

// NoticeRepository stores in-app notices.
type NoticeRepository struct {
	db *sqlx.DB
}

// NewNoticeRepository constructs a NoticeRepository.
func NewNoticeRepository(db *sqlx.DB) *NoticeRepository {
	return &NoticeRepository{db: db}
}

// Create inserts a notice.
func (r *NoticeRepository) Create(ctx context.Context, notice *models.Notice) error {
	if notice.ID == "" {
		notice.ID = uuid.NewString()
	}
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notices (id, user_id, title, message, type, request_id, read_at, created_at)
	VALUES (:id, :user_id, :title, :message, :type, :request_id, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notice); err != nil {
		return fmt.Errorf("create notice: %w", err)
	}
	return nil
}

// List returns a page of the user's notices, newest first, with the total count.
func (r *NoticeRepository) List(ctx context.Context, filter models.NoticeFilter) ([]models.Notice, int, error) {
	base := `FROM notices WHERE user_id = $1`
	if filter.UnreadOnly {
		base += ` AND read_at IS NULL`
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, user_id, title, message, type, request_id, read_at, created_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", base, pageSize, offset)
	var notices []models.Notice
	if err := r.db.SelectContext(ctx, &notices, listQuery, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list notices: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count notices: %w", err)
	}
	return notices, total, nil
}

// MarkRead sets read_at on the user's notice. sql.ErrNoRows when the notice is not theirs.
func (r *NoticeRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	const query = `UPDATE notices SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("mark notice read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check notice rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
