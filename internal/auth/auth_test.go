package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(issuer))
	NewHandler(issuer, zap.NewNop()).RegisterRoutes(r.Group("/api/v1"))
	return r, issuer
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	alice := chain.AddressFromSeed("alice")
	token, expiresAt, err := issuer.Issue(alice)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	got, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	issuer, _ := NewIssuer("test-secret", time.Hour)
	other, _ := NewIssuer("other-secret", time.Hour)

	token, _, err := other.Issue(chain.AddressFromSeed("mallory"))
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := issuer.Issue(chain.AddressFromSeed("alice"))
	require.NoError(t, err)
	issuer.now = time.Now
	_, err = issuer.Parse(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)
}

func TestMiddleware_SetsCaller(t *testing.T) {
	r, issuer := newTestRouter(t)
	alice := chain.AddressFromSeed("alice")
	token, _, err := issuer.Issue(alice)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, alice.String(), body["account"])
}

func TestMiddleware_RejectsBadToken(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_IssueTokenFromSeed(t *testing.T) {
	r, issuer := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"seed": "bob"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, chain.AddressFromSeed("bob"), resp.Account)

	got, err := issuer.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Account, got)
}

func TestHandler_IssueTokenRejectsBadAccount(t *testing.T) {
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"account": "0x1234"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
