package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, rec := newContext()
	Error(c, appErrors.Clone(appErrors.ErrConflict, "request already decided"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "request already decided", body.Error.Message)
	assert.Empty(t, c.Errors)
}

func TestErrorRecordsServerFailures(t *testing.T) {
	c, rec := newContext()
	Error(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, c.Errors, 1)
}

func TestAttachment(t *testing.T) {
	c, rec := newContext()
	Attachment(c, "outing-return-pass.pdf", "application/pdf", []byte("%PDF-"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="outing-return-pass.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "%PDF-", rec.Body.String())
}
