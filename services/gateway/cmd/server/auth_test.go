package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth() *authenticator {
	return newAuthenticator(
		config.AuthConfig{JWTSecret: "test-secret", TokenExpireHours: 1},
		[]config.User{{Username: "admin", Password: "admin-pw", Role: "admin"}},
	)
}

func TestLoginIssuesToken(t *testing.T) {
	a := testAuth()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"username":"admin","password":"admin-pw"}`))
	rec := httptest.NewRecorder()
	a.login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	a := testAuth()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	rec := httptest.NewRecorder()
	a.login(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	a := testAuth()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"username":"ghost","password":"x"}`))
	rec := httptest.NewRecorder()
	a.login(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	a := testAuth()
	token, err := a.issueToken("admin", "admin")
	require.NoError(t, err)

	var seenUser string
	h := a.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = userFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", seenUser)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a := testAuth()
	h := a.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendors", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	a := testAuth()
	issued := time.Now().Add(-3 * time.Hour)
	a.now = func() time.Time { return issued }
	token, err := a.issueToken("admin", "admin")
	require.NoError(t, err)

	a.now = time.Now
	h := a.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsTamperedToken(t *testing.T) {
	a := testAuth()
	token, err := a.issueToken("admin", "admin")
	require.NoError(t, err)
	tampered := token[:len(token)-2] + "xx"

	h := a.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendors", nil)
	req.Header.Set("Authorization", "Bearer "+tampered)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
