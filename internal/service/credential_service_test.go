package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/jobs"
	"github.com/noah-isme/hostel-permit-api/pkg/passrender"
	"github.com/noah-isme/hostel-permit-api/pkg/passtoken"
	"github.com/noah-isme/hostel-permit-api/pkg/storage"
)

type rendererStub struct {
	calls int
	err   error
}

func (r *rendererStub) Render(p passrender.Pass) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + p.Direction), nil
}

func approvedRequest(repo *permissionRepoStub, outingDay time.Time) *models.PermissionRequest {
	req := &models.PermissionRequest{
		ID:           "req-1",
		Kind:         models.PermissionOuting,
		StudentID:    "stu-1",
		HostelBlock:  "D-Block",
		Floor:        "2",
		Category:     models.CategoryNormal,
		Path:         models.ApprovalPath{models.ApproverFloorIncharge, models.ApproverHostelIncharge, models.ApproverWarden},
		CurrentLevel: models.LevelCompleted,
		Status:       models.PermissionApproved,
		Payload: models.PermissionPayload{
			Purpose:     "market",
			ParentPhone: "9876543210",
			OutingDate:  &outingDay,
			OutTime:     "10:00",
			ReturnTime:  "18:00",
		},
		Version: 4,
	}
	repo.requests[req.ID] = req.Clone()
	return req
}

func newCredentialFixture(t *testing.T, opts ...CredentialOption) (*CredentialService, *permissionRepoStub, *passtoken.Signer) {
	t.Helper()
	repo := newPermissionRepoStub()
	signer, err := passtoken.NewSigner("pass-secret", "")
	require.NoError(t, err)
	students := &studentDirStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", FullName: "Asha Verma", RollNumber: "001", HostelBlock: "D-Block", Floor: "2", Status: models.StudentActive},
	}}
	svc := NewCredentialService(repo, students, signer, nil, CredentialConfig{}, opts...)
	svc.now = fixedClock
	return svc, repo, signer
}

func TestCredentialIssueIsIdempotent(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	req := approvedRequest(repo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	first, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotNil(t, first.Credentials)
	assert.Equal(t, fixedNow.Add(24*time.Hour), first.Credentials.Outgoing.ValidUntil)
	assert.Equal(t, time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC), first.Credentials.Return.ValidUntil)

	second, err := svc.Issue(context.Background(), first, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Credentials.Outgoing.Token, second.Credentials.Outgoing.Token)

	stale, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Credentials.Return.Token, stale.Credentials.Return.Token)
	assert.Equal(t, 1, repo.credWrites)
}

func TestCredentialIssueRequiresApproval(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	req := approvedRequest(repo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	req.Status = models.PermissionPending
	req.CurrentLevel = string(models.ApproverWarden)

	_, err := svc.Issue(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, 0, repo.credWrites)
}

func TestCredentialReturnWindowFallsBackToNow(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	req := approvedRequest(repo, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	out, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, out.Credentials.Return.ValidFrom)
	assert.Equal(t, fixedNow.Add(24*time.Hour), out.Credentials.Return.ValidUntil)
}

func TestCredentialReturnPassOpensAtReturnTime(t *testing.T) {
	svc, repo, signer := newCredentialFixture(t)
	req := approvedRequest(repo, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	returnAt := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)

	issued, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	ret := issued.Credentials.Return
	assert.Equal(t, returnAt, ret.ValidFrom)
	assert.Equal(t, returnAt.Add(24*time.Hour), ret.ValidUntil)
	assert.Equal(t, fixedNow, issued.Credentials.Outgoing.ValidFrom)

	claims, err := signer.Verify(ret.Token, false)
	require.NoError(t, err)
	require.NotNil(t, claims.NotBefore)
	assert.True(t, claims.NotBefore.Time.Equal(returnAt))

	view, err := svc.Inspect(context.Background(), ret.Token)
	require.NoError(t, err)
	assert.False(t, view.WithinWindow)

	svc.now = func() time.Time { return returnAt.Add(time.Hour) }
	view, err = svc.Inspect(context.Background(), ret.Token)
	require.NoError(t, err)
	assert.True(t, view.WithinWindow)
}

func TestCredentialRendersPassFilesOnce(t *testing.T) {
	renderer := &rendererStub{}
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc, repo, _ := newCredentialFixture(t, WithPassRendering(renderer, files))
	req := approvedRequest(repo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	out, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1/outgoing.pdf", out.Credentials.Outgoing.PassFile)
	assert.Equal(t, "req-1/return.pdf", out.Credentials.Return.PassFile)
	assert.Equal(t, "req-1/return.pdf", repo.stored("req-1").Credentials.Return.PassFile)

	data, err := files.Read("req-1/outgoing.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-outgoing", string(data))

	_, err = svc.Issue(context.Background(), repo.stored("req-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, renderer.calls)
}

func TestCredentialRenderFailureKeepsTokensAndSchedulesRetry(t *testing.T) {
	renderer := &rendererStub{err: errors.New("font missing")}
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	queue := &enqueuerStub{}
	metrics := NewMetricsService()
	svc, repo, _ := newCredentialFixture(t, WithPassRendering(renderer, files), WithCredentialQueue(queue), WithCredentialMetrics(metrics))
	req := approvedRequest(repo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	out, err := svc.Issue(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDependency))
	require.NotNil(t, out.Credentials)
	assert.Empty(t, out.Credentials.Outgoing.PassFile)
	assert.NotNil(t, repo.stored("req-1").Credentials)
	assert.Equal(t, uint64(1), metrics.Snapshot().CredentialsIssued)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobCredentialRender, queue.jobs[0].Type)
	assert.Equal(t, "req-1", queue.jobs[0].Payload)

	renderer.err = nil
	mux := jobs.NewMux()
	svc.RegisterJobs(mux)
	require.NoError(t, mux.Process(context.Background(), queue.jobs[0]))
	stored := repo.stored("req-1")
	assert.Equal(t, out.Credentials.Outgoing.Token, stored.Credentials.Outgoing.Token)
	assert.Equal(t, "req-1/outgoing.pdf", stored.Credentials.Outgoing.PassFile)
	assert.Len(t, queue.jobs, 1)
}

func TestCredentialLinksAndDownload(t *testing.T) {
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc, repo, _ := newCredentialFixture(t, WithPassRendering(&rendererStub{}, files), WithPassLinks(storage.NewLinkSigner("link-secret")))
	svc.now = func() time.Time { return time.Now().UTC() }
	req := approvedRequest(repo, time.Now().UTC())

	_, err = svc.Links(req)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	issued, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)

	links, err := svc.Links(issued)
	require.NoError(t, err)
	require.Len(t, links.Links, 2)

	data, name, err := svc.Download(context.Background(), links.Links["return"])
	require.NoError(t, err)
	assert.Equal(t, "%PDF-return", string(data))
	assert.Equal(t, "outing-return-pass.pdf", name)

	_, _, err = svc.Download(context.Background(), links.Links["return"]+"x")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCredentialInspect(t *testing.T) {
	svc, repo, signer := newCredentialFixture(t)
	req := approvedRequest(repo, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	issued, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)

	view, err := svc.Inspect(context.Background(), issued.Credentials.Outgoing.Token)
	require.NoError(t, err)
	assert.Equal(t, "req-1", view.RequestID)
	assert.Equal(t, "outgoing", view.Direction)
	assert.True(t, view.WithinWindow)
	assert.Equal(t, "Asha Verma", view.Student.FullName)

	svc.now = func() time.Time { return fixedNow.Add(48 * time.Hour) }
	view, err = svc.Inspect(context.Background(), issued.Credentials.Outgoing.Token)
	require.NoError(t, err)
	assert.False(t, view.WithinWindow)

	_, err = svc.Inspect(context.Background(), "not-a-token")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	foreign, err := signer.Sign(passtoken.Pass{
		RequestID:  "req-1",
		StudentID:  "stu-1",
		Direction:  "outgoing",
		IssuedAt:   fixedNow,
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.Inspect(context.Background(), foreign)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
