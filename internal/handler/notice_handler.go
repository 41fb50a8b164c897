package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-permit-api/internal/dto"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/response"
)

type noticeInbox interface {
	ListNotices(ctx context.Context, userID string, query dto.NoticeQuery) (*dto.NoticeList, error)
	MarkNoticeRead(ctx context.Context, userID, noticeID string) error
}

// NoticeHandler serves the caller's in-app notices.
type NoticeHandler struct {
	inbox noticeInbox
}

// NewNoticeHandler constructs the handler.
func NewNoticeHandler(inbox noticeInbox) *NoticeHandler {
	return &NoticeHandler{inbox: inbox}
}

// List godoc
// @Summary List notices
// @Tags Notices
// @Produce json
// @Param unread query bool false "Only unread"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notices [get]
func (h *NoticeHandler) List(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	var query dto.NoticeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	list, err := h.inbox.ListNotices(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list.Notices, &list.Pagination)
}

// MarkRead godoc
// @Summary Mark a notice read
// @Tags Notices
// @Param id path string true "Notice ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /notices/{id}/read [post]
func (h *NoticeHandler) MarkRead(c *gin.Context) {
	claims, ok := caller(c)
	if !ok {
		return
	}
	if err := h.inbox.MarkNoticeRead(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
