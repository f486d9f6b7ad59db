package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/middleware"
	"github.com/asesmartice/floorwatch/internal/tokens"
)

func TestJWTAuth_RejectsMissingHeader(t *testing.T) {
	mgr := tokens.NewManager("secret")
	auth := middleware.NewJWTAuth(mgr)

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_AcceptsValidTokenAndInjectsContext(t *testing.T) {
	mgr := tokens.NewManager("secret")
	token, err := mgr.GenerateSessionToken("sess-1", "cam_patio", "loc-1", time.Minute)
	require.NoError(t, err)

	auth := middleware.NewJWTAuth(mgr)

	var gotSession *middleware.SessionContext
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := middleware.GetSessionContext(r.Context())
		require.True(t, ok)
		gotSession = sc
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotSession)
	assert.Equal(t, "sess-1", gotSession.SessionID)
	assert.Equal(t, "cam_patio", gotSession.CameraID)
}

func TestJWTAuth_RejectsWrongSigningKey(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")
	token, _ := mgr1.GenerateSessionToken("sess-1", "cam_patio", "loc-1", time.Minute)

	auth := middleware.NewJWTAuth(mgr2)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLogger_PassesThroughAndSetsRequestID(t *testing.T) {
	handler := middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
