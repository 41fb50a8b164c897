package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var fromGin, fromCtx string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, fromGin, fromCtx
}

func TestMiddlewareKeepsWellFormedID(t *testing.T) {
	rec, fromGin, fromCtx := serve(t, "gate-console-0042")
	assert.Equal(t, "gate-console-0042", rec.Header().Get(headerKey))
	assert.Equal(t, "gate-console-0042", fromGin)
	assert.Equal(t, "gate-console-0042", fromCtx)
}

func TestMiddlewareReplacesMissingOrUnsafeID(t *testing.T) {
	for _, header := range []string{"", "short", "line\nbreak-injected-into-logs"} {
		rec, fromGin, _ := serve(t, header)
		_, err := uuid.Parse(fromGin)
		require.NoError(t, err, header)
		assert.Equal(t, fromGin, rec.Header().Get(headerKey))
	}
}
