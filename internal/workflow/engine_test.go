package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

var (
	testNow     = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testStudent = &models.Student{ID: "stu-1", HostelBlock: "D-Block", Floor: "2", Semester: 3, Status: models.StudentActive}

	floorIncharge  = &models.Approver{ID: "fi-1", Email: "floorincharge2.d@kietgroup.com", Role: models.ApproverFloorIncharge, Blocks: []string{"D-Block"}, Floors: []string{"2"}}
	hostelIncharge = &models.Approver{ID: "hi-1", Role: models.ApproverHostelIncharge, Blocks: []string{"D-Block"}}
	warden         = &models.Approver{ID: "wd-1", Role: models.ApproverWarden, Blocks: []string{"D-Block", "E-Block"}}
)

func newTestRequest(t *testing.T, category models.PermissionCategory) *models.PermissionRequest {
	t.Helper()
	route, err := NewResolver(nil).Resolve(Cohort{Block: testStudent.HostelBlock, Floor: testStudent.Floor, Semester: testStudent.Semester}, category)
	require.NoError(t, err)
	req, err := NewRequest(Draft{
		ID:       "req-1",
		Kind:     models.PermissionOuting,
		Category: category,
		Student:  testStudent,
		Route:    route,
		At:       testNow,
	})
	require.NoError(t, err)
	return req
}

func decide(t *testing.T, req *models.PermissionRequest, approver *models.Approver, decision models.Decision) *models.PermissionRequest {
	t.Helper()
	out, err := Apply(req, Action{Approver: approver, Decision: decision, At: testNow.Add(time.Minute)})
	require.NoError(t, err)
	return out.Request
}

func TestNewRequestStartsAtFirstRole(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)

	assert.Equal(t, models.PermissionPending, req.Status)
	assert.Equal(t, string(models.ApproverFloorIncharge), req.CurrentLevel)
	assert.Empty(t, req.ApprovalLog)
	assert.Nil(t, req.Credentials)
	assert.Equal(t, "D-Block", req.HostelBlock)
	assert.NoError(t, Validate(req))
}

func TestNormalRequestFullApproval(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)

	req = decide(t, req, floorIncharge, models.DecisionApprove)
	assert.Equal(t, string(models.ApproverHostelIncharge), req.CurrentLevel)
	assert.Len(t, req.ApprovalLog, 1)

	req = decide(t, req, hostelIncharge, models.DecisionApprove)
	assert.Equal(t, string(models.ApproverWarden), req.CurrentLevel)

	out, err := Apply(req, Action{Approver: warden, Decision: models.DecisionApprove, At: testNow.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, out.Approved())
	assert.Equal(t, models.EventPermissionApproved, out.EventType())
	assert.Equal(t, models.LevelCompleted, out.Request.CurrentLevel)
	assert.Len(t, out.Request.ApprovalLog, 3)
	assert.Equal(t, 4, out.Request.Version)
	assert.Equal(t, string(models.ApproverWarden), out.PreviousLevel)
}

func TestEmergencyRequestDeniedByHostelIncharge(t *testing.T) {
	req := newTestRequest(t, models.CategoryEmergency)
	require.Equal(t, string(models.ApproverHostelIncharge), req.CurrentLevel)

	out, err := Apply(req, Action{Approver: hostelIncharge, Decision: models.DecisionDeny, Remarks: " exam week ", At: testNow})
	require.NoError(t, err)
	assert.True(t, out.Denied())
	assert.Equal(t, string(models.ApproverHostelIncharge), out.Request.CurrentLevel)
	assert.Equal(t, "exam week", out.Entry.Remarks)

	for _, approver := range []*models.Approver{hostelIncharge, warden} {
		_, err := Apply(out.Request, Action{Approver: approver, Decision: models.DecisionApprove, At: testNow})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrConflict), "approver %s", approver.ID)
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)
	_, err := Apply(req, Action{Approver: floorIncharge, Decision: models.DecisionApprove, At: testNow})
	require.NoError(t, err)

	assert.Empty(t, req.ApprovalLog)
	assert.Equal(t, 1, req.Version)
	assert.Equal(t, string(models.ApproverFloorIncharge), req.CurrentLevel)
}

func TestApplyRejectsWrongRole(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)

	_, err := Apply(req, Action{Approver: warden, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestApplyRejectsFloorInchargeOnEmergency(t *testing.T) {
	req := newTestRequest(t, models.CategoryEmergency)

	_, err := Apply(req, Action{Approver: floorIncharge, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestApplyRejectsOutOfScopeApprover(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)

	otherFloor := *floorIncharge
	otherFloor.Floors = []string{"3"}
	_, err := Apply(req, Action{Approver: &otherFloor, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	req = decide(t, req, floorIncharge, models.DecisionApprove)
	otherBlock := *hostelIncharge
	otherBlock.Blocks = []string{"E-Block"}
	_, err = Apply(req, Action{Approver: &otherBlock, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestApplyHidesOutcomeFromOutOfScopeApprover(t *testing.T) {
	req := newTestRequest(t, models.CategoryEmergency)
	req = decide(t, req, hostelIncharge, models.DecisionDeny)

	otherBlock := *warden
	otherBlock.Blocks = []string{"Z-Block"}
	_, err := Apply(req, Action{Approver: &otherBlock, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = Apply(req, Action{Approver: floorIncharge, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = Apply(req, Action{Approver: warden, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestApplyRejectsStaleDecision(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)
	req = decide(t, req, floorIncharge, models.DecisionApprove)

	_, err := Apply(req, Action{Approver: floorIncharge, Decision: models.DecisionDeny, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestApplyRejectsUnknownDecision(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)
	_, err := Apply(req, Action{Approver: floorIncharge, Decision: "maybe", At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestApplyHonoursBlockAliases(t *testing.T) {
	student := &models.Student{ID: "stu-2", HostelBlock: "Womens-Block", Floor: "1", Semester: 7, Status: models.StudentActive}
	route, err := NewResolver(nil).Resolve(Cohort{Block: student.HostelBlock, Semester: student.Semester}, models.CategoryEmergency)
	require.NoError(t, err)
	req, err := NewRequest(Draft{ID: "req-2", Kind: models.PermissionHome, Category: models.CategoryEmergency, Student: student, Route: route, At: testNow})
	require.NoError(t, err)

	approver := &models.Approver{ID: "hi-w", Role: models.ApproverHostelIncharge, Blocks: []string{"W-Block"}}
	out, err := Apply(req, Action{Approver: approver, Decision: models.DecisionApprove, At: testNow})
	require.NoError(t, err)
	assert.Equal(t, string(models.ApproverWarden), out.Request.CurrentLevel)
}

func TestLogLengthTracksDecidedRoles(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)
	for i, approver := range []*models.Approver{floorIncharge, hostelIncharge, warden} {
		req = decide(t, req, approver, models.DecisionApprove)
		assert.Len(t, req.ApprovalLog, i+1)
		require.NoError(t, Validate(req))
	}
}

func TestValidateDetectsBrokenState(t *testing.T) {
	req := newTestRequest(t, models.CategoryNormal)

	broken := req.Clone()
	broken.CurrentLevel = string(models.ApproverWarden)
	assert.True(t, errors.Is(Validate(broken), ErrInvariant))

	broken = req.Clone()
	broken.Credentials = &models.CredentialPair{}
	assert.True(t, errors.Is(Validate(broken), ErrInvariant))

	broken = req.Clone()
	broken.Category = models.CategoryEmergency
	assert.True(t, errors.Is(Validate(broken), ErrInvariant))

	broken = req.Clone()
	broken.Path = models.ApprovalPath{models.ApproverWarden, models.ApproverWarden}
	broken.CurrentLevel = string(models.ApproverWarden)
	assert.True(t, errors.Is(Validate(broken), ErrInvariant))

	_, err := Apply(broken, Action{Approver: warden, Decision: models.DecisionApprove, At: testNow})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}
