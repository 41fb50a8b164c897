package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

type fakeAuthenticator struct {
	got models.LoginRequest
	err error
}

func (f *fakeAuthenticator) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600, User: models.UserInfo{ID: "u-1", Role: models.RoleWarden}}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	auth := &fakeAuthenticator{}
	handler := NewAuthHandler(auth)
	c, rec := newTestContext(http.MethodPost, "/auth/login", map[string]string{"email": "warden@kietgroup.com", "password": "secret"}, nil)

	handler.Login(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warden@kietgroup.com", auth.got.Email)
	assert.Equal(t, "token", decodeEnvelope(t, rec).Data["access_token"])
}

func TestAuthHandlerLoginErrors(t *testing.T) {
	handler := NewAuthHandler(&fakeAuthenticator{err: appErrors.ErrInvalidCredentials})

	c, rec := newTestContext(http.MethodPost, "/auth/login", "not json", nil)
	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/auth/login", map[string]string{"email": "x@y.z", "password": "bad"}, nil)
	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(&fakeAuthenticator{})

	c, rec := newTestContext(http.MethodGet, "/auth/me", nil, nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/auth/me", nil, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent, Email: "asha@kietgroup.com"})
	handler.Me(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", decodeEnvelope(t, rec).Data["role"])
}
