package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-permit-api/internal/models"
)

// ErrActivePermissionExists is returned when the one-pending-request index rejects an insert.
var ErrActivePermissionExists = errors.New("student already has a pending permission request")

const uniqueViolation = "23505"

const permissionColumns = `id, kind, student_id, hostel_block, floor, category, payload, routed_to, path,
       current_level, status, approval_log, credentials, version, created_at, updated_at`

// PermissionRepository persists outing and home permission requests.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository constructs the repository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Create inserts a new request.
func (r *PermissionRepository) Create(ctx context.Context, req *models.PermissionRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	if req.Version == 0 {
		req.Version = 1
	}
	const query = `INSERT INTO permission_requests
	(id, kind, student_id, hostel_block, floor, category, payload, routed_to, path, current_level, status, approval_log, credentials, version, created_at, updated_at)
	VALUES (:id, :kind, :student_id, :hostel_block, :floor, :category, :payload, :routed_to, :path, :current_level, :status, :approval_log, :credentials, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return ErrActivePermissionExists
		}
		return fmt.Errorf("create permission request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*models.PermissionRequest, error) {
	query := `SELECT ` + permissionColumns + ` FROM permission_requests WHERE id = $1`
	var req models.PermissionRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPendingByStudent returns the student's pending request or sql.ErrNoRows.
func (r *PermissionRepository) FindPendingByStudent(ctx context.Context, studentID string) (*models.PermissionRequest, error) {
	query := `SELECT ` + permissionColumns + ` FROM permission_requests
	WHERE student_id = $1 AND status = 'pending' ORDER BY created_at DESC LIMIT 1`
	var req models.PermissionRequest
	if err := r.db.GetContext(ctx, &req, query, studentID); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByStudent returns the student's requests, newest first.
func (r *PermissionRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.PermissionRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + permissionColumns + ` FROM permission_requests
	WHERE student_id = $1 ORDER BY created_at DESC LIMIT ` + fmt.Sprint(limit)
	var list []models.PermissionRequest
	if err := r.db.SelectContext(ctx, &list, query, studentID); err != nil {
		return nil, fmt.Errorf("list student permissions: %w", err)
	}
	return list, nil
}

// ListByScope returns requests in the given blocks/floors that are waiting at
// filter.Level or were decided by filter.DecidedBy. Blocks and floors match
// case-insensitively.
func (r *PermissionRepository) ListByScope(ctx context.Context, filter models.PermissionScopeFilter) ([]models.PermissionRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + permissionColumns + ` FROM permission_requests`)

	conditions := make([]string, 0, 4)
	if len(filter.Blocks) > 0 {
		args = append(args, pq.Array(foldScope(filter.Blocks)))
		conditions = append(conditions, fmt.Sprintf("lower(btrim(hostel_block)) = ANY($%d)", len(args)))
	}
	if len(filter.Floors) > 0 {
		args = append(args, pq.Array(foldScope(filter.Floors)))
		conditions = append(conditions, fmt.Sprintf("lower(btrim(floor)) = ANY($%d)", len(args)))
	}
	if len(filter.Categories) > 0 {
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = string(c)
		}
		args = append(args, pq.Array(categories))
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d)", len(args)))
	}

	visibility := make([]string, 0, 2)
	if filter.Level != "" {
		args = append(args, filter.Level)
		visibility = append(visibility, fmt.Sprintf("(status = 'pending' AND current_level = $%d)", len(args)))
	}
	if filter.DecidedBy != "" {
		marker, err := json.Marshal([]map[string]string{{"approver_id": filter.DecidedBy}})
		if err != nil {
			return nil, fmt.Errorf("encode decided-by filter: %w", err)
		}
		args = append(args, string(marker))
		visibility = append(visibility, fmt.Sprintf("approval_log @> $%d::jsonb", len(args)))
	}
	if len(visibility) > 0 {
		conditions = append(conditions, "("+strings.Join(visibility, " OR ")+")")
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d", limit))

	var list []models.PermissionRequest
	if err := r.db.SelectContext(ctx, &list, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list scoped permissions: %w", err)
	}
	return list, nil
}

// SaveTransition writes the next state only if the row still holds the state the
// decision was made against. sql.ErrNoRows means another decision won.
func (r *PermissionRepository) SaveTransition(ctx context.Context, next *models.PermissionRequest, expectedLevel string, expectedVersion int) error {
	const query = `UPDATE permission_requests
	SET current_level = $1, status = $2, approval_log = $3, version = $4, updated_at = $5
	WHERE id = $6 AND status = 'pending' AND current_level = $7 AND version = $8`
	result, err := r.db.ExecContext(ctx, query,
		next.CurrentLevel,
		next.Status,
		next.ApprovalLog,
		next.Version,
		next.UpdatedAt,
		next.ID,
		expectedLevel,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("save permission transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check permission transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetCredentials stores passes once. sql.ErrNoRows means they were already set
// or the request is not approved.
func (r *PermissionRepository) SetCredentials(ctx context.Context, id string, creds models.CredentialPair, at time.Time) error {
	const query = `UPDATE permission_requests
	SET credentials = $1, updated_at = $2
	WHERE id = $3 AND status = 'approved' AND current_level = 'completed' AND credentials IS NULL`
	result, err := r.db.ExecContext(ctx, query, creds, at, id)
	if err != nil {
		return fmt.Errorf("set permission credentials: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check credential rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePassFiles records rendered pass file names on already issued credentials.
func (r *PermissionRepository) UpdatePassFiles(ctx context.Context, id string, creds models.CredentialPair, at time.Time) error {
	const query = `UPDATE permission_requests
	SET credentials = $1, updated_at = $2
	WHERE id = $3 AND credentials IS NOT NULL
	  AND credentials->'outgoing'->>'token' = $4 AND credentials->'return'->>'token' = $5`
	result, err := r.db.ExecContext(ctx, query, creds, at, id, creds.Outgoing.Token, creds.Return.Token)
	if err != nil {
		return fmt.Errorf("update pass files: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check pass file rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func foldScope(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
