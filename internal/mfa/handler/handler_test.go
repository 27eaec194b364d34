package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"coresuite/backend/internal/mfa/repository"
	"coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/security"
	"coresuite/backend/internal/server/interceptors"
	userdomain "coresuite/backend/internal/user/domain"
	userrepo "coresuite/backend/internal/user/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	router *gin.Engine
	svc    *service.Service
	clock  *testClock
	tokens *security.TokenProvider
}

type response struct {
	code int
	body map[string]any
}

func newTestServer(t *testing.T, mw ...func(*Middleware)) *testServer {
	t.Helper()
	return newTestServerWithStore(t, repository.NewMemoryRepository(), mw...)
}

func newTestServerWithStore(t *testing.T, store repository.Repository, mw ...func(*Middleware)) *testServer {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := service.NewService(store, security.NewHasher(bcrypt.MinCost),
		service.WithClock(clock.Now))

	users := userrepo.NewMemoryRepository()
	require.NoError(t, users.Upsert(ctx, &userdomain.User{ID: "u1", Username: "mrossi", Email: "m@example.com", Name: "Mario Rossi"}))
	require.NoError(t, users.Upsert(ctx, &userdomain.User{ID: "u2", Username: "lbianchi", Email: "l@example.com"}))

	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)

	m := Middleware{
		User:               interceptors.RequireUser(tokens),
		PendingLogin:       interceptors.RequirePendingLogin(tokens),
		UserOrPendingLogin: interceptors.RequireUserOrPendingLogin(tokens),
	}
	for _, f := range mw {
		f(&m)
	}
	r := gin.New()
	r.Use(interceptors.ClientInfo())
	NewHandler(svc, users, "https://back.example.com/", nil).Register(r, m)
	return &testServer{router: r, svc: svc, clock: clock, tokens: tokens}
}

func (s *testServer) userHeaders(t *testing.T, userID string) map[string]string {
	t.Helper()
	tok, _, _, err := s.tokens.IssueAccess("sess-"+userID, userID)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (s *testServer) pendingHeaders(t *testing.T, userID string) map[string]string {
	t.Helper()
	tok, _, err := s.tokens.IssuePendingLogin(userID)
	require.NoError(t, err)
	return map[string]string{interceptors.PendingLoginHeader: tok}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	out := response{code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out.body), w.Body.String())
	}
	return out
}

// enroll creates and completes a device for userID and returns its uuid.
func (s *testServer) enroll(t *testing.T, userID, label, pin string) string {
	t.Helper()
	res := s.do(t, http.MethodPost, BasePath+"/devices/create",
		map[string]string{"label": label, "pin": pin, "pin_confirmation": pin}, s.userHeaders(t, userID))
	require.Equal(t, http.StatusCreated, res.code, res.body)
	token := res.body["provisioning"].(map[string]any)["token"].(string)
	res = s.do(t, http.MethodPost, BasePath+"/devices/complete", map[string]string{"token": token}, nil)
	require.Equal(t, http.StatusOK, res.code, res.body)
	return res.body["device"].(map[string]any)["device_uuid"].(string)
}

// startChallenge opens a challenge for userID's pending login and returns its token.
func (s *testServer) startChallenge(t *testing.T, userID string) string {
	t.Helper()
	res := s.do(t, http.MethodPost, BasePath+"/challenges/create", nil, s.pendingHeaders(t, userID))
	require.Equal(t, http.StatusCreated, res.code, res.body)
	return res.body["challenge"].(map[string]any)["token"].(string)
}

func (s *testServer) decide(t *testing.T, token, deviceUUID, pin, action string) response {
	t.Helper()
	return s.do(t, http.MethodPost, BasePath+"/challenges/decision", map[string]string{
		"token": token, "device_uuid": deviceUUID, "pin": pin, "action": action,
	}, nil)
}

func challengeOf(res response) map[string]any {
	c, _ := res.body["challenge"].(map[string]any)
	return c
}
