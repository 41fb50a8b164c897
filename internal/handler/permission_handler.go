package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-permit-api/internal/dto"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/response"
)

type permissionWorkflow interface {
	Submit(ctx context.Context, studentID string, req dto.SubmitPermissionRequest) (*models.PermissionRequest, error)
	Decide(ctx context.Context, approverID, requestID string, req dto.DecisionRequest) (*models.PermissionRequest, error)
	Get(ctx context.Context, userID string, role models.UserRole, requestID string) (*models.PermissionRequest, error)
	ListForStudent(ctx context.Context, studentID string) (*dto.StudentDashboard, error)
	ListForApprover(ctx context.Context, approverID string) (*dto.ApproverDashboard, error)
	RetryCredentials(ctx context.Context, userID string, role models.UserRole, requestID string) (*models.PermissionRequest, error)
}

type passDesk interface {
	Links(req *models.PermissionRequest) (*dto.PassLinks, error)
	Download(ctx context.Context, token string) ([]byte, string, error)
	Inspect(ctx context.Context, raw string) (*dto.PassInspection, error)
}

// PermissionHandler exposes the outing and home permission workflow.
type PermissionHandler struct {
	workflow permissionWorkflow
	passes   passDesk
}

// NewPermissionHandler constructs the handler.
func NewPermissionHandler(workflow permissionWorkflow, passes passDesk) *PermissionHandler {
	return &PermissionHandler{workflow: workflow, passes: passes}
}

// Submit godoc
// @Summary Submit a permission request
// @Description Students raise an outing or home permission. Only one request may be pending at a time.
// @Tags Permissions
// @Accept json
// @Produce json
// @Param payload body dto.SubmitPermissionRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /permissions [post]
func (h *PermissionHandler) Submit(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	var req dto.SubmitPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permission payload"))
		return
	}

	created, err := h.workflow.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Mine godoc
// @Summary List own requests
// @Tags Permissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /permissions/mine [get]
func (h *PermissionHandler) Mine(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	dashboard, err := h.workflow.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Queue godoc
// @Summary Approver dashboard
// @Description Requests waiting at the caller's level or already decided by the caller, with counts.
// @Tags Permissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /permissions/queue [get]
func (h *PermissionHandler) Queue(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	dashboard, err := h.workflow.ListForApprover(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Get godoc
// @Summary Get a request
// @Tags Permissions
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /permissions/{id} [get]
func (h *PermissionHandler) Get(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	req, err := h.workflow.Get(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Decide godoc
// @Summary Approve or deny a request
// @Description The request must be waiting at the caller's level and inside the caller's block or floor.
// @Tags Permissions
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /permissions/{id}/decision [post]
func (h *PermissionHandler) Decide(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	decided, err := h.workflow.Decide(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decided, nil)
}

// RetryCredentials godoc
// @Summary Re-run credential issuance
// @Description Issues missing passes of an approved request. Safe to repeat.
// @Tags Permissions
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /permissions/{id}/credentials/retry [post]
func (h *PermissionHandler) RetryCredentials(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	req, err := h.workflow.RetryCredentials(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Passes godoc
// @Summary Pass download links
// @Description Short lived links to the rendered outgoing and return passes.
// @Tags Passes
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /permissions/{id}/passes [get]
func (h *PermissionHandler) Passes(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	req, err := h.workflow.Get(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	links, err := h.passes.Links(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, nil)
}

// Download godoc
// @Summary Download a pass PDF
// @Tags Passes
// @Produce application/pdf
// @Param token path string true "Link token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /passes/{token} [get]
func (h *PermissionHandler) Download(c *gin.Context) {
	data, name, err := h.passes.Download(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, name, "application/pdf", data)
}

// Inspect godoc
// @Summary Inspect a presented pass
// @Description Read-only lookup of a pass token for gate staff. Nothing is consumed.
// @Tags Passes
// @Produce json
// @Param token query string true "Pass token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /credentials/inspect [get]
func (h *PermissionHandler) Inspect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	view, err := h.passes.Inspect(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
