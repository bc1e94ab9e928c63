package market

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/auth"
	"yideng/edu-market/edu-market-backend/internal/chain"
)

func newRouter(t *testing.T, f *fixture) (*gin.Engine, *auth.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(auth.Middleware(issuer))
	NewHandler(f.exec, f.market, zap.NewNop()).RegisterRoutes(api)
	return r, issuer
}

func call(t *testing.T, r *gin.Engine, issuer *auth.Issuer, method, path string, caller chain.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		token, _, err := issuer.Issue(caller)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func codeOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestHandlerCourseLifecycle(t *testing.T) {
	f := setup(t, Settings{})
	r, issuer := newRouter(t, f)
	course := gin.H{"web2_course_id": "WEB3-001", "name": "智能合约开发", "price": "100"}

	w := call(t, r, issuer, http.MethodPost, "/api/v1/courses", "", course)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses", stranger, course)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Unauthorized", codeOf(t, w))

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses", admin, course)
	require.Equal(t, http.StatusCreated, w.Code)

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses", admin, course)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DuplicateCourseId", codeOf(t, w))

	huge := gin.H{"web2_course_id": "WEB3-002", "name": "x", "price": "1" + strings.Repeat("0", 78)}
	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses", admin, huge)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, issuer, http.MethodGet, "/api/v1/courses/WEB3-001", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":100`)

	w = call(t, r, issuer, http.MethodGet, "/api/v1/courses/MISSING", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CourseNotFound", codeOf(t, w))
}

func TestHandlerPurchaseAndVerify(t *testing.T) {
	f := setup(t, Settings{})
	r, issuer := newRouter(t, f)
	f.addCourse(t, "WEB3-001", 100)
	f.fund(t, buyer, 1_000, 1_000)

	w := call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/purchase", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthenticated", codeOf(t, w))

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/verify", admin, gin.H{"student": buyer})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NotPurchased", codeOf(t, w))

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/purchase", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/purchase", buyer, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyPurchased", codeOf(t, w))

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/purchase", stranger, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "InsufficientAllowance", codeOf(t, w))

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/verify", admin, gin.H{"student": buyer})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token_id":1`)

	w = call(t, r, issuer, http.MethodPost, "/api/v1/courses/WEB3-001/verify", admin, gin.H{"student": buyer})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyCertified", codeOf(t, w))

	w = call(t, r, issuer, http.MethodGet, "/api/v1/courses/WEB3-001/access/"+buyer.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var access accessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &access))
	assert.True(t, access.HasCourse)
	assert.Equal(t, "CERTIFIED", access.Status)
}

func TestHandlerSettings(t *testing.T) {
	f := setup(t, Settings{})
	r, issuer := newRouter(t, f)

	w := call(t, r, issuer, http.MethodPut, "/api/v1/market/settings/recertification", stranger, gin.H{"allow": true})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = call(t, r, issuer, http.MethodPut, "/api/v1/market/settings/recertification", admin, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, issuer, http.MethodPut, "/api/v1/market/settings/recertification", admin, gin.H{"allow": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, r, issuer, http.MethodGet, "/api/v1/market/settings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allow_recertification":true`)
}
