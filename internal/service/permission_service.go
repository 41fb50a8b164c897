package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/internal/dto"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	"github.com/noah-isme/hostel-permit-api/internal/repository"
	"github.com/noah-isme/hostel-permit-api/internal/workflow"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	queueCachePrefix = "queue:"
	queueCacheAll    = queueCachePrefix + "*"
)

type permissionStore interface {
	Create(ctx context.Context, req *models.PermissionRequest) error
	GetByID(ctx context.Context, id string) (*models.PermissionRequest, error)
	FindPendingByStudent(ctx context.Context, studentID string) (*models.PermissionRequest, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.PermissionRequest, error)
	ListByScope(ctx context.Context, filter models.PermissionScopeFilter) ([]models.PermissionRequest, error)
	SaveTransition(ctx context.Context, next *models.PermissionRequest, expectedLevel string, expectedVersion int) error
}

type studentDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Student, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type requestLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type credentialIssuer interface {
	Issue(ctx context.Context, req *models.PermissionRequest, student *models.Student) (*models.PermissionRequest, error)
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, event models.PermissionEvent)
}

type queueCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string)
}

// PermissionService runs the outing and home permission workflow.
type PermissionService struct {
	repo        permissionStore
	students    studentDirectory
	users       userDirectory
	resolver    *workflow.Resolver
	credentials credentialIssuer
	dispatcher  eventDispatcher
	locker      requestLocker
	cache       queueCache
	cacheTTL    time.Duration
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// PermissionServiceOption configures the service.
type PermissionServiceOption func(*PermissionService)

// WithRequestLocker serialises decisions on the same request across instances.
func WithRequestLocker(locker requestLocker) PermissionServiceOption {
	return func(s *PermissionService) {
		s.locker = locker
	}
}

// WithQueueCache caches approver dashboards for ttl.
func WithQueueCache(cache queueCache, ttl time.Duration) PermissionServiceOption {
	return func(s *PermissionService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithPermissionMetrics records transitions.
func WithPermissionMetrics(metrics *MetricsService) PermissionServiceOption {
	return func(s *PermissionService) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PermissionServiceOption {
	return func(s *PermissionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPermissionService constructs the workflow service.
func NewPermissionService(
	repo permissionStore,
	students studentDirectory,
	users userDirectory,
	resolver *workflow.Resolver,
	credentials credentialIssuer,
	dispatcher eventDispatcher,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...PermissionServiceOption,
) *PermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if resolver == nil {
		resolver = workflow.NewResolver(nil)
	}
	svc := &PermissionService{
		repo:        repo,
		students:    students,
		users:       users,
		resolver:    resolver,
		credentials: credentials,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit opens a new request for the student.
func (s *PermissionService) Submit(ctx context.Context, studentID string, req dto.SubmitPermissionRequest) (*models.PermissionRequest, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.CanRequest() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("student is %s and cannot raise requests", student.Status))
	}

	if _, err := s.repo.FindPendingByStudent(ctx, student.ID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending permission request already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}

	category := req.Category
	if category == "" {
		category = models.CategoryNormal
	}
	req.Category = category
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission payload")
	}
	now := s.now()
	payload, err := buildPayload(req, student, now)
	if err != nil {
		return nil, err
	}

	route, err := s.resolver.Resolve(workflow.Cohort{Block: student.HostelBlock, Floor: student.Floor, Semester: student.Semester}, category)
	if err != nil {
		return nil, err
	}
	request, err := workflow.NewRequest(workflow.Draft{
		ID:       uuid.NewString(),
		Kind:     req.Kind,
		Category: category,
		Payload:  payload,
		Student:  student,
		Route:    route,
		At:       now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrActivePermissionExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a pending permission request already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create permission request")
	}

	s.metrics.RecordTransition(string(request.Kind), string(request.Category), "new", string(models.EventPermissionCreated))
	s.logger.Info("permission request submitted",
		zap.String("request_id", request.ID),
		zap.String("student_id", student.ID),
		zap.String("kind", string(request.Kind)),
		zap.String("category", string(request.Category)),
		zap.String("level", request.CurrentLevel),
	)
	s.publish(ctx, models.EventPermissionCreated, request, student.Summary(), nil)
	return request, nil
}

func buildPayload(req dto.SubmitPermissionRequest, student *models.Student, now time.Time) (models.PermissionPayload, error) {
	payload := models.PermissionPayload{
		Purpose:     strings.TrimSpace(req.Purpose),
		ParentPhone: strings.TrimSpace(req.ParentPhone),
		HomeTown:    strings.TrimSpace(req.HomeTown),
	}
	if payload.ParentPhone == "" {
		payload.ParentPhone = student.ParentPhone
	}
	if payload.ParentPhone == "" {
		return payload, appErrors.Clone(appErrors.ErrValidation, "parent phone is required")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch req.Kind {
	case models.PermissionOuting:
		day, err := time.Parse(dateLayout, strings.TrimSpace(req.OutingDate))
		if err != nil {
			return payload, appErrors.Clone(appErrors.ErrValidation, "outing_date must be YYYY-MM-DD")
		}
		out, err := time.Parse(clockLayout, strings.TrimSpace(req.OutTime))
		if err != nil {
			return payload, appErrors.Clone(appErrors.ErrValidation, "out_time must be HH:MM")
		}
		ret, err := time.Parse(clockLayout, strings.TrimSpace(req.ReturnTime))
		if err != nil {
			return payload, appErrors.Clone(appErrors.ErrValidation, "return_time must be HH:MM")
		}
		if day.Before(today) {
			return payload, appErrors.Clone(appErrors.ErrValidation, "outing_date is in the past")
		}
		if !ret.After(out) {
			return payload, appErrors.Clone(appErrors.ErrValidation, "return_time must be after out_time")
		}
		payload.OutingDate = &day
		payload.OutTime = out.Format(clockLayout)
		payload.ReturnTime = ret.Format(clockLayout)
	case models.PermissionHome:
		going, err := time.Parse(dateLayout, strings.TrimSpace(req.GoingDate))
		if err != nil {
			return payload, appErrors.Clone(appErrors.ErrValidation, "going_date must be YYYY-MM-DD")
		}
		incoming, err := time.Parse(dateLayout, strings.TrimSpace(req.IncomingDate))
		if err != nil {
			return payload, appErrors.Clone(appErrors.ErrValidation, "incoming_date must be YYYY-MM-DD")
		}
		if going.Before(today) {
			return payload, appErrors.Clone(appErrors.ErrValidation, "going_date is in the past")
		}
		if incoming.Before(going) {
			return payload, appErrors.Clone(appErrors.ErrValidation, "incoming_date must not be before going_date")
		}
		payload.GoingDate = &going
		payload.IncomingDate = &incoming
	default:
		return payload, appErrors.Clone(appErrors.ErrValidation, "kind must be outing or home")
	}
	return payload, nil
}

// Decide records an approver verdict on a request.
func (s *PermissionService) Decide(ctx context.Context, approverID, requestID string, req dto.DecisionRequest) (*models.PermissionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	approver, err := s.approver(ctx, approverID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	outcome, err := workflow.Apply(current, workflow.Action{
		Approver: approver,
		Decision: req.Decision,
		Remarks:  req.Remarks,
		At:       s.now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTransition(ctx, outcome.Request, outcome.PreviousLevel, outcome.PrevVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was decided concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save decision")
	}

	next := outcome.Request
	s.metrics.RecordTransition(string(next.Kind), string(next.Category), outcome.PreviousLevel, string(outcome.EventType()))
	s.logger.Info("permission request decided",
		zap.String("request_id", next.ID),
		zap.String("approver_id", approver.ID),
		zap.String("role", string(approver.Role)),
		zap.String("decision", string(req.Decision)),
		zap.String("from", outcome.PreviousLevel),
		zap.String("to", next.CurrentLevel),
		zap.String("status", string(next.Status)),
	)

	student, err := s.students.FindByID(ctx, next.StudentID)
	if err != nil {
		s.logger.Warn("student lookup after decision failed", zap.String("student_id", next.StudentID), zap.Error(err))
		student = nil
	}

	if outcome.Approved() && s.credentials != nil {
		issued, err := s.credentials.Issue(ctx, next, student)
		if issued != nil {
			next = issued
		}
		if err != nil {
			s.metrics.RecordDependencyFailure("credentials")
			s.logger.Error("credential issuance failed after approval", zap.String("request_id", next.ID), zap.Error(err))
		}
	}

	summary := student.Summary()
	if summary.ID == "" {
		summary = models.StudentSummary{ID: next.StudentID, HostelBlock: next.HostelBlock, Floor: next.Floor}
	}
	entry := outcome.Entry
	s.publish(ctx, outcome.EventType(), next, summary, &entry)
	return next, nil
}

// Get returns a request the caller may see.
func (s *PermissionService) Get(ctx context.Context, userID string, role models.UserRole, requestID string) (*models.PermissionRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleAdmin:
		return req, nil
	case models.RoleStudent:
		if req.StudentID == userID {
			return req, nil
		}
	case models.RoleSecurity:
		if req.Status == models.PermissionApproved {
			return req, nil
		}
	default:
		approver, err := s.approver(ctx, userID)
		if err != nil {
			return nil, err
		}
		if approver.Covers(req.HostelBlock, req.Floor) {
			return req, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "request is outside your scope")
}

// ListForStudent returns the student's own requests, newest first.
func (s *PermissionService) ListForStudent(ctx context.Context, studentID string) (*dto.StudentDashboard, error) {
	list, err := s.repo.ListByStudent(ctx, studentID, 50)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	if list == nil {
		list = []models.PermissionRequest{}
	}
	stats := models.PermissionStats{Total: len(list)}
	for _, req := range list {
		switch req.Status {
		case models.PermissionPending:
			stats.Pending++
		case models.PermissionApproved:
			stats.Approved++
		case models.PermissionDenied:
			stats.Denied++
		}
	}
	return &dto.StudentDashboard{Requests: list, Stats: stats}, nil
}

// ListForApprover returns the requests visible to an approver with counts.
// Floor incharges see normal requests of their own floors; block level roles
// see what waits at their level or what they already decided.
func (s *PermissionService) ListForApprover(ctx context.Context, approverID string) (*dto.ApproverDashboard, error) {
	approver, err := s.approver(ctx, approverID)
	if err != nil {
		return nil, err
	}

	cacheKey := queueCachePrefix + approver.ID
	var cached dto.ApproverDashboard
	if s.cache != nil && s.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	filter := models.PermissionScopeFilter{
		Blocks:    approver.BlockVariants(),
		Level:     string(approver.Role),
		DecidedBy: approver.ID,
	}
	if approver.Role == models.ApproverFloorIncharge {
		filter.Floors = approver.Floors
		filter.Categories = []models.PermissionCategory{models.CategoryNormal}
	}
	list, err := s.repo.ListByScope(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}

	ids := make([]string, 0, len(list))
	for _, req := range list {
		ids = append(ids, req.StudentID)
	}
	students, err := s.students.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("student lookup for dashboard failed", zap.Error(err))
		students = map[string]models.Student{}
	}

	dashboard := &dto.ApproverDashboard{Approver: *approver, Items: make([]dto.QueueItem, 0, len(list))}
	for _, req := range list {
		student, ok := students[req.StudentID]
		summary := student.Summary()
		if !ok {
			summary = models.StudentSummary{ID: req.StudentID, HostelBlock: req.HostelBlock, Floor: req.Floor}
		}
		actionable := req.Status == models.PermissionPending && req.CurrentLevel == string(approver.Role)
		dashboard.Items = append(dashboard.Items, dto.QueueItem{Request: req, Student: summary, Actionable: actionable})

		dashboard.Stats.Total++
		if actionable {
			dashboard.Stats.Pending++
		}
		if req.Status == models.PermissionDenied {
			dashboard.Stats.Denied++
		}
		for _, entry := range req.ApprovalLog {
			if entry.ApproverID == approver.ID && entry.Decision == models.DecisionApprove {
				dashboard.Stats.Approved++
				break
			}
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, dashboard, s.cacheTTL)
	}
	return dashboard, nil
}

// RetryCredentials re-runs issuance for an approved request. It is a no-op
// when every pass already exists.
func (s *PermissionService) RetryCredentials(ctx context.Context, userID string, role models.UserRole, requestID string) (*models.PermissionRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin {
		approver, err := s.approver(ctx, userID)
		if err != nil {
			return nil, err
		}
		if approver.Role == models.ApproverFloorIncharge || !approver.Covers(req.HostelBlock, req.Floor) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only block level approvers may retry credentials")
		}
	}
	if req.Status != models.PermissionApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request is not approved")
	}
	if s.credentials == nil {
		return nil, appErrors.Clone(appErrors.ErrDependency, "credential issuer unavailable")
	}

	issued, err := s.credentials.Issue(ctx, req, nil)
	if err != nil {
		return issued, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, queueCacheAll)
	}
	return issued, nil
}

func (s *PermissionService) approver(ctx context.Context, userID string) (*models.Approver, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown approver")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approver")
	}
	approver, ok := user.Approver()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account cannot approve permission requests")
	}
	return approver, nil
}

func (s *PermissionService) load(ctx context.Context, requestID string) (*models.PermissionRequest, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permission request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load permission request")
	}
	return req, nil
}

// lock takes the per-request lock. Lock backend failures fall back to the
// compare-and-swap in the repository.
func (s *PermissionService) lock(ctx context.Context, requestID string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	release, err := s.locker.Acquire(ctx, "permission:"+requestID)
	if err == nil {
		return release, nil
	}
	if appErrors.Is(err, appErrors.ErrLockNotObtained) {
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request is being decided by another approver")
	}
	s.logger.Warn("request lock unavailable, relying on version check", zap.String("request_id", requestID), zap.Error(err))
	return noop, nil
}

func (s *PermissionService) publish(ctx context.Context, eventType models.PermissionEventType, req *models.PermissionRequest, student models.StudentSummary, entry *models.ApprovalEntry) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, queueCacheAll)
	}
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, models.PermissionEvent{
		Type:       eventType,
		Request:    *req,
		Student:    student,
		Entry:      entry,
		OccurredAt: s.now(),
	})
}
