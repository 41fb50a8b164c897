package dto

import "github.com/noah-isme/hostel-permit-api/internal/models"

// NoticeQuery mirrors the notice listing filters.
type NoticeQuery struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
}

// NoticeList is a page of notices.
type NoticeList struct {
	Notices    []models.Notice   `json:"notices"`
	Pagination models.Pagination `json:"pagination"`
}
