package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/internal/dto"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/jobs"
	"github.com/noah-isme/hostel-permit-api/pkg/passrender"
	"github.com/noah-isme/hostel-permit-api/pkg/passtoken"
	"github.com/noah-isme/hostel-permit-api/pkg/storage"
)

// JobCredentialRender re-renders pass files for a request id.
const JobCredentialRender = "credential.render"

const (
	credentialResultIssued       = "issued"
	credentialResultExisting     = "existing"
	credentialResultFailed       = "failed"
	credentialResultRenderFailed = "render_failed"
)

var directions = []models.CredentialDirection{models.DirectionOutgoing, models.DirectionReturn}

type credentialStore interface {
	GetByID(ctx context.Context, id string) (*models.PermissionRequest, error)
	SetCredentials(ctx context.Context, id string, creds models.CredentialPair, at time.Time) error
	UpdatePassFiles(ctx context.Context, id string, creds models.CredentialPair, at time.Time) error
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type passSigner interface {
	Sign(p passtoken.Pass) (string, error)
	Verify(raw string, checkWindow bool) (*passtoken.Claims, error)
}

type passRenderer interface {
	Render(p passrender.Pass) ([]byte, error)
}

type passStorage interface {
	Save(name string, data []byte) (string, error)
	Read(name string) ([]byte, error)
}

type passLinkSigner interface {
	Generate(requestID, direction string, expiresAt time.Time) (string, error)
	Parse(token string) (*storage.PassLink, error)
}

// CredentialConfig holds the validity windows.
type CredentialConfig struct {
	OutgoingWindow time.Duration
	ReturnWindow   time.Duration
	LinkTTL        time.Duration
}

// CredentialService issues the outgoing and return passes of approved requests.
type CredentialService struct {
	store    credentialStore
	students studentLookup
	signer   passSigner
	renderer passRenderer
	files    passStorage
	links    passLinkSigner
	queue    jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	config   CredentialConfig
	now      func() time.Time
}

// CredentialOption configures the service.
type CredentialOption func(*CredentialService)

// WithPassRendering enables PDF passes stored in files.
func WithPassRendering(renderer passRenderer, files passStorage) CredentialOption {
	return func(s *CredentialService) {
		s.renderer = renderer
		s.files = files
	}
}

// WithPassLinks enables signed download links.
func WithPassLinks(links passLinkSigner) CredentialOption {
	return func(s *CredentialService) {
		s.links = links
	}
}

// WithCredentialQueue retries failed renders in the background.
func WithCredentialQueue(queue jobEnqueuer) CredentialOption {
	return func(s *CredentialService) {
		s.queue = queue
	}
}

// WithCredentialMetrics records issuance results.
func WithCredentialMetrics(metrics *MetricsService) CredentialOption {
	return func(s *CredentialService) {
		s.metrics = metrics
	}
}

// NewCredentialService constructs the issuer.
func NewCredentialService(store credentialStore, students studentLookup, signer passSigner, logger *zap.Logger, cfg CredentialConfig, opts ...CredentialOption) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutgoingWindow <= 0 {
		cfg.OutgoingWindow = 24 * time.Hour
	}
	if cfg.ReturnWindow <= 0 {
		cfg.ReturnWindow = 24 * time.Hour
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	svc := &CredentialService{
		store:    store,
		students: students,
		signer:   signer,
		logger:   logger,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// RegisterJobs binds the render retry job on mux.
func (s *CredentialService) RegisterJobs(mux *jobs.Mux) {
	mux.Handle(JobCredentialRender, func(ctx context.Context, job jobs.Job) error {
		id, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		req, err := s.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load request %s: %w", id, err)
		}
		_, err = s.issue(ctx, req, nil, false)
		return err
	})
}

// Issue attaches both passes to an approved request. It is idempotent: a
// request that already carries credentials keeps them, and only missing pass
// files are rendered. The returned request is always the freshest known
// state, also when the error reports a failed render.
func (s *CredentialService) Issue(ctx context.Context, req *models.PermissionRequest, student *models.Student) (*models.PermissionRequest, error) {
	return s.issue(ctx, req, student, true)
}

func (s *CredentialService) issue(ctx context.Context, req *models.PermissionRequest, student *models.Student, schedule bool) (*models.PermissionRequest, error) {
	if req == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "permission request not found")
	}
	if req.Status != models.PermissionApproved || req.CurrentLevel != models.LevelCompleted {
		return req, appErrors.Clone(appErrors.ErrConflict, "credentials are only issued for approved requests")
	}

	current := req.Clone()
	if current.Credentials == nil {
		now := s.now()
		creds, err := s.mint(current, now)
		if err != nil {
			s.metrics.RecordCredential(credentialResultFailed)
			return current, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to sign credentials")
		}
		err = s.store.SetCredentials(ctx, current.ID, *creds, now)
		switch {
		case err == nil:
			current.Credentials = creds
			current.UpdatedAt = now
			s.metrics.RecordCredential(credentialResultIssued)
			s.logger.Info("credentials issued", zap.String("request_id", current.ID))
		case errors.Is(err, sql.ErrNoRows):
			reloaded, getErr := s.store.GetByID(ctx, current.ID)
			if getErr != nil {
				return current, appErrors.Wrap(getErr, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to reload request")
			}
			if reloaded.Credentials == nil {
				return reloaded, appErrors.Clone(appErrors.ErrConflict, "request is not eligible for credentials")
			}
			current = reloaded
			s.metrics.RecordCredential(credentialResultExisting)
		default:
			s.metrics.RecordCredential(credentialResultFailed)
			return current, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to store credentials")
		}
	} else {
		s.metrics.RecordCredential(credentialResultExisting)
	}

	if err := s.render(ctx, current, student); err != nil {
		s.metrics.RecordCredential(credentialResultRenderFailed)
		s.logger.Warn("pass render failed", zap.String("request_id", current.ID), zap.Error(err))
		if schedule {
			s.scheduleRender(current.ID)
		}
		return current, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to render passes")
	}
	return current, nil
}

func (s *CredentialService) mint(req *models.PermissionRequest, now time.Time) (*models.CredentialPair, error) {
	returnBase, err := req.ReturnBase()
	if err != nil {
		return nil, err
	}
	// The return pass opens at the declared return time. A return time whose
	// window already closed restarts the window at issuance.
	returnFrom := returnBase
	if !returnBase.Add(s.config.ReturnWindow).After(now) {
		returnFrom = now
	}
	windows := map[models.CredentialDirection][2]time.Time{
		models.DirectionOutgoing: {now, now.Add(s.config.OutgoingWindow)},
		models.DirectionReturn:   {returnFrom, returnFrom.Add(s.config.ReturnWindow)},
	}

	pair := &models.CredentialPair{}
	for _, dir := range directions {
		token, err := s.signer.Sign(passtoken.Pass{
			RequestID:  req.ID,
			StudentID:  req.StudentID,
			Direction:  string(dir),
			IssuedAt:   now,
			ValidFrom:  windows[dir][0],
			ValidUntil: windows[dir][1],
		})
		if err != nil {
			return nil, err
		}
		cred, _ := pair.Get(dir)
		*cred = models.Credential{
			Direction:  dir,
			Token:      token,
			IssuedAt:   now,
			ValidFrom:  windows[dir][0],
			ValidUntil: windows[dir][1],
		}
	}
	return pair, nil
}

func (s *CredentialService) render(ctx context.Context, req *models.PermissionRequest, student *models.Student) error {
	if s.renderer == nil || s.files == nil || req.Credentials == nil {
		return nil
	}
	if student == nil && s.students != nil {
		found, err := s.students.FindByID(ctx, req.StudentID)
		if err != nil {
			s.logger.Warn("student lookup for pass failed", zap.String("student_id", req.StudentID), zap.Error(err))
		} else {
			student = found
		}
	}
	summary := student.Summary()
	if summary.ID == "" {
		summary = models.StudentSummary{ID: req.StudentID, HostelBlock: req.HostelBlock, Floor: req.Floor}
	}

	var firstErr error
	changed := false
	for _, dir := range directions {
		cred, _ := req.Credentials.Get(dir)
		if cred.PassFile != "" {
			continue
		}
		pdf, err := s.renderer.Render(passrender.Pass{
			Title:       fmt.Sprintf("%s Gate Pass", kindTitle(req.Kind)),
			StudentName: summary.FullName,
			RollNumber:  summary.RollNumber,
			HostelBlock: summary.HostelBlock,
			Floor:       summary.Floor,
			RoomNumber:  summary.RoomNumber,
			Kind:        string(req.Kind),
			Direction:   string(dir),
			Purpose:     req.Payload.Purpose,
			Token:       cred.Token,
			ValidFrom:   cred.ValidFrom,
			ValidUntil:  cred.ValidUntil,
		})
		if err == nil {
			_, err = s.files.Save(passFileName(req.ID, dir), pdf)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s pass: %w", dir, err)
			}
			continue
		}
		cred.PassFile = passFileName(req.ID, dir)
		changed = true
	}
	if changed {
		if err := s.store.UpdatePassFiles(ctx, req.ID, *req.Credentials, s.now()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record pass files: %w", err)
		}
	}
	return firstErr
}

func passFileName(requestID string, dir models.CredentialDirection) string {
	return fmt.Sprintf("%s/%s.pdf", requestID, dir)
}

func (s *CredentialService) scheduleRender(requestID string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: JobCredentialRender, Payload: requestID}); err != nil {
		s.logger.Warn("schedule pass render failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

// Links returns short lived download tokens for the rendered passes of req.
func (s *CredentialService) Links(req *models.PermissionRequest) (*dto.PassLinks, error) {
	if s.links == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "pass downloads are disabled")
	}
	if req == nil || req.Credentials == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "credentials have not been issued")
	}
	expiresAt := s.now().Add(s.config.LinkTTL)
	out := &dto.PassLinks{RequestID: req.ID, Links: make(map[string]string, 2), ExpiresAt: expiresAt.Unix()}
	for _, dir := range directions {
		cred, _ := req.Credentials.Get(dir)
		if cred.PassFile == "" {
			continue
		}
		token, err := s.links.Generate(req.ID, string(dir), expiresAt)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign pass link")
		}
		out.Links[string(dir)] = token
	}
	if len(out.Links) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "passes have not been rendered yet")
	}
	return out, nil
}

// Download resolves a link token to the stored pass PDF and its file name.
func (s *CredentialService) Download(ctx context.Context, token string) ([]byte, string, error) {
	if s.links == nil || s.files == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "pass downloads are disabled")
	}
	link, err := s.links.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired pass link")
	}
	req, err := s.store.GetByID(ctx, link.RequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "permission request not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	cred, ok := req.Credentials.Get(models.CredentialDirection(link.Direction))
	if !ok || cred.PassFile == "" {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "pass not available")
	}
	data, err := s.files.Read(cred.PassFile)
	if err != nil {
		if errors.Is(err, storage.ErrNotStored) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "pass not available")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read pass")
	}
	return data, fmt.Sprintf("%s-%s-pass.pdf", req.Kind, link.Direction), nil
}

// Inspect describes a presented pass token without consuming it.
func (s *CredentialService) Inspect(ctx context.Context, raw string) (*dto.PassInspection, error) {
	claims, err := s.signer.Verify(raw, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pass token")
	}
	req, err := s.store.GetByID(ctx, claims.RequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permission request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	cred, ok := req.Credentials.Get(models.CredentialDirection(claims.Direction))
	if !ok || cred.Token != raw {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "pass does not match the issued credential")
	}

	now := s.now()
	out := &dto.PassInspection{
		RequestID:    req.ID,
		StudentID:    req.StudentID,
		Direction:    claims.Direction,
		ValidFrom:    cred.ValidFrom.Unix(),
		ValidUntil:   cred.ValidUntil.Unix(),
		WithinWindow: !now.Before(cred.ValidFrom) && now.Before(claims.Deadline()),
		Status:       req.Status,
		Student:      models.StudentSummary{ID: req.StudentID, HostelBlock: req.HostelBlock, Floor: req.Floor},
	}
	if s.students != nil {
		if student, err := s.students.FindByID(ctx, req.StudentID); err == nil {
			out.Student = student.Summary()
		}
	}
	return out, nil
}
