package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/internal/dto"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/jobs"
	"github.com/noah-isme/hostel-permit-api/pkg/realtime"
	"github.com/noah-isme/hostel-permit-api/pkg/sms"
)

// Job types handled by the notification workers.
const (
	JobNotifyNotice = "notify.notice"
	JobNotifyScope  = "notify.scope"
	JobNotifySMS    = "notify.sms"
)

// Channel names used in logs and dependency metrics.
const (
	channelNotice = "notice"
	channelScope  = "scope"
	channelSMS    = "sms"
)

type noticeStore interface {
	Create(ctx context.Context, notice *models.Notice) error
	List(ctx context.Context, filter models.NoticeFilter) ([]models.Notice, int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

type smsSender interface {
	Enabled() bool
	Send(ctx context.Context, rawPhone, body string) (sms.Result, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// smsJob is the queued payload for one parent text.
type smsJob struct {
	RequestID string
	Phone     string
	Body      string
}

// NotificationService fans committed transitions out to notices, live
// consoles and parent SMS. Every channel fails on its own.
type NotificationService struct {
	notices         noticeStore
	publisher       realtime.Publisher
	sms             smsSender
	queue           jobEnqueuer
	metrics         *MetricsService
	logger          *zap.Logger
	notifyForwarded bool
	now             func() time.Time
}

// NotificationOption configures the service.
type NotificationOption func(*NotificationService)

// WithNotificationQueue hands delivery to background workers.
func WithNotificationQueue(queue jobEnqueuer) NotificationOption {
	return func(s *NotificationService) {
		s.queue = queue
	}
}

// WithNotificationMetrics records dependency failures.
func WithNotificationMetrics(metrics *MetricsService) NotificationOption {
	return func(s *NotificationService) {
		s.metrics = metrics
	}
}

// WithForwardedSMS texts parents when a floor incharge forwards a request.
func WithForwardedSMS(enabled bool) NotificationOption {
	return func(s *NotificationService) {
		s.notifyForwarded = enabled
	}
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(notices noticeStore, publisher realtime.Publisher, sender smsSender, logger *zap.Logger, opts ...NotificationOption) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		notices:   notices,
		publisher: publisher,
		sms:       sender,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// RegisterJobs binds the notification job types on mux.
func (s *NotificationService) RegisterJobs(mux *jobs.Mux) {
	mux.Handle(JobNotifyNotice, func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.PermissionEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		return s.deliverNotice(ctx, event)
	})
	mux.Handle(JobNotifyScope, func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.PermissionEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		return s.deliverScope(ctx, event)
	})
	mux.Handle(JobNotifySMS, func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(smsJob)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		return s.deliverSMS(ctx, payload)
	})
}

// Dispatch delivers event on every applicable channel. It never fails: errors
// are logged and counted, and the transition stays committed.
func (s *NotificationService) Dispatch(ctx context.Context, event models.PermissionEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	s.run(ctx, JobNotifyScope, channelScope, event.Request.ID, event, func(ctx context.Context) error {
		return s.deliverScope(ctx, event)
	})
	if event.Type == models.EventPermissionCreated {
		return
	}

	s.run(ctx, JobNotifyNotice, channelNotice, event.Request.ID, event, func(ctx context.Context) error {
		return s.deliverNotice(ctx, event)
	})

	if body, ok := s.smsBody(event); ok {
		payload := smsJob{RequestID: event.Request.ID, Phone: parentPhone(event), Body: body}
		s.run(ctx, JobNotifySMS, channelSMS, event.Request.ID, payload, func(ctx context.Context) error {
			return s.deliverSMS(ctx, payload)
		})
	}
}

func (s *NotificationService) smsBody(event models.PermissionEvent) (string, bool) {
	switch {
	case event.Type == models.EventPermissionApproved:
		return approvalSMS(event), true
	case s.notifyForwarded && event.Type == models.EventPermissionUpdated &&
		event.Entry != nil && event.Entry.Role == models.ApproverFloorIncharge:
		return forwardedSMS(event), true
	default:
		return "", false
	}
}

func parentPhone(event models.PermissionEvent) string {
	if p := strings.TrimSpace(event.Request.Payload.ParentPhone); p != "" {
		return p
	}
	return event.Student.ParentPhone
}

func (s *NotificationService) run(ctx context.Context, jobType, channel, requestID string, payload interface{}, inline func(context.Context) error) {
	if s.queue != nil {
		err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: payload})
		if err == nil {
			return
		}
		s.logger.Warn("notification enqueue failed, delivering inline",
			zap.String("channel", channel), zap.String("request_id", requestID), zap.Error(err))
	}
	if err := inline(ctx); err != nil {
		s.Failed(channel, requestID, err)
	}
}

// Failed logs and counts a channel that gave up.
func (s *NotificationService) Failed(channel, requestID string, err error) {
	s.metrics.RecordDependencyFailure(channel)
	s.logger.Error("notification delivery failed",
		zap.String("channel", channel),
		zap.String("request_id", requestID),
		zap.Error(appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, channel+" delivery failed")),
	)
}

// Dropped reports a queued notification job that ran out of retries.
func (s *NotificationService) Dropped(job jobs.Job, err error) {
	switch payload := job.Payload.(type) {
	case models.PermissionEvent:
		channel := channelScope
		if job.Type == JobNotifyNotice {
			channel = channelNotice
		}
		s.Failed(channel, payload.Request.ID, err)
	case smsJob:
		s.Failed(channelSMS, payload.RequestID, err)
	default:
		s.Failed(job.Type, job.ID, err)
	}
}

func (s *NotificationService) deliverScope(ctx context.Context, event models.PermissionEvent) error {
	if s.publisher == nil {
		return nil
	}
	msg, err := realtime.NewMessage(realtime.ScopeKey(event.Request.HostelBlock, event.Request.Floor, string(event.Request.Category)), string(event.Type), event)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, msg)
}

func (s *NotificationService) deliverNotice(ctx context.Context, event models.PermissionEvent) error {
	notice := studentNotice(event)
	if s.notices != nil {
		if err := s.notices.Create(ctx, &notice); err != nil {
			return err
		}
	}
	if s.publisher == nil {
		return nil
	}
	msg, err := realtime.NewMessage(realtime.StudentKey(notice.UserID), models.EventStudentNotification, notice)
	if err == nil {
		err = s.publisher.Publish(ctx, msg)
	}
	if err != nil {
		// the notice is stored; a retry would duplicate it
		s.Failed(channelNotice, event.Request.ID, fmt.Errorf("live push: %w", err))
	}
	return nil
}

func (s *NotificationService) deliverSMS(ctx context.Context, payload smsJob) error {
	if s.sms == nil || !s.sms.Enabled() {
		return nil
	}
	if strings.TrimSpace(payload.Phone) == "" {
		s.logger.Warn("no parent phone on request", zap.String("request_id", payload.RequestID))
		return nil
	}
	result, err := s.sms.Send(ctx, payload.Phone, payload.Body)
	if errors.Is(err, sms.ErrInvalidRecipient) {
		s.Failed(channelSMS, payload.RequestID, err)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Debug("parent sms sent", zap.String("request_id", payload.RequestID), zap.String("status", string(result.Status)))
	return nil
}

// ListNotices returns a page of the user's notices.
func (s *NotificationService) ListNotices(ctx context.Context, userID string, query dto.NoticeQuery) (*dto.NoticeList, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize <= 0 || query.PageSize > 100 {
		query.PageSize = 20
	}
	notices, total, err := s.notices.List(ctx, models.NoticeFilter{
		UserID:     userID,
		UnreadOnly: query.UnreadOnly,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notices")
	}
	if notices == nil {
		notices = []models.Notice{}
	}
	return &dto.NoticeList{
		Notices:    notices,
		Pagination: models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: total},
	}, nil
}

// MarkNoticeRead marks one of the user's notices as read.
func (s *NotificationService) MarkNoticeRead(ctx context.Context, userID, noticeID string) error {
	if err := s.notices.MarkRead(ctx, noticeID, userID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notice not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notice")
	}
	return nil
}
