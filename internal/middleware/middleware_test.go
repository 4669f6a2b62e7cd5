package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/metrics"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ── Auth ──────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	var gotUser string
	var gotReset, gotRemember bool
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = ctxkeys.GetUserID(r.Context())
		gotReset, _ = r.Context().Value(ctxkeys.PasswordReset).(bool)
		gotRemember = ctxkeys.GetRememberMe(r.Context())
	}))

	token := signToken(t, jwt.MapClaims{
		"userId":   "u-1",
		"pwdReset": true,
		"rm":       true,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", gotUser)
	assert.True(t, gotReset)
	assert.True(t, gotRemember)
}

func TestAuth_Rejects(t *testing.T) {
	expired := signToken(t, jwt.MapClaims{"userId": "u-1", "exp": time.Now().Add(-time.Hour).Unix()})
	noUser := signToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	otherKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "u-1"}).SignedString([]byte("other"))

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"expired":        "Bearer " + expired,
		"no user":        "Bearer " + noUser,
		"bad signature":  "Bearer " + otherKey,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			Auth(testSecret)(okHandler()).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

type stubChecker struct {
	pending map[string]bool
	err     error
	calls   int
}

func (s *stubChecker) PasswordResetPending(_ context.Context, userID string) (bool, error) {
	s.calls++
	return s.pending[userID], s.err
}

func TestForcePasswordReset(t *testing.T) {
	checker := &stubChecker{}
	h := ForcePasswordReset(checker, "/api/auth/change-password")(okHandler())

	pending := func(path string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		return req.WithContext(context.WithValue(req.Context(), ctxkeys.PasswordReset, true))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pending("/api/beneficiaries"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonPasswordReset, decode(t, rec)["error"])
	assert.Zero(t, checker.calls)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, pending("/api/auth/change-password"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, checker.calls)
}

func TestForcePasswordReset_FlaggedAfterLogin(t *testing.T) {
	checker := &stubChecker{pending: map[string]bool{"u-1": true}}
	chain := Auth(testSecret)(ForcePasswordReset(checker, "/api/auth/change-password")(okHandler()))

	// Issued before the administrator forced the reset, so no pwdReset claim.
	token := signToken(t, jwt.MapClaims{"userId": "u-1", "exp": time.Now().Add(time.Hour).Unix()})
	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	rec := send("/api/beneficiaries")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonPasswordReset, decode(t, rec)["error"])

	assert.Equal(t, http.StatusOK, send("/api/auth/change-password").Code)
}

func TestForcePasswordReset_CheckerFailureFailsClosed(t *testing.T) {
	checker := &stubChecker{err: errors.New("db down")}
	rec := httptest.NewRecorder()
	ForcePasswordReset(checker)(okHandler()).ServeHTTP(rec, authedRequest(""))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ── Authorizer ────────────────────────────────────────────────

type stubResolver struct {
	result authz.ContextResult
	calls  int
}

func (s *stubResolver) Resolve(context.Context, string) authz.ContextResult {
	s.calls++
	return s.result
}

func helpdeskContext() *authz.PermissionContext {
	snap := authz.NewCatalogSnapshot([]authz.RoleDefinition{
		{Name: "helpdesk", Permissions: []string{"view_beneficiaries_company"}},
	}, time.Now())
	return authz.NewPermissionContext("u-1", []string{"helpdesk"}, snap, authz.CompaniesScope("c-1"))
}

func authedRequest(accept string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/beneficiaries", nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req.WithContext(context.WithValue(req.Context(), ctxkeys.UserID, "u-1"))
}

func TestAuthorizer_AllowsAndStoresContext(t *testing.T) {
	pc := helpdeskContext()
	a := NewAuthorizer(&stubResolver{result: authz.Resolved(pc)}, authz.NewFilter(nil))

	var got *authz.PermissionContext
	h := a.Require("view_beneficiaries_all")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ctxkeys.GetPermissionContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest("application/json"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, pc, got)
	assert.Equal(t, []string{"c-1"}, ctxkeys.GetCompanyScope(ctxkeys.WithPermissionContext(context.Background(), got)))
}

func TestAuthorizer_DenyJSON(t *testing.T) {
	a := NewAuthorizer(&stubResolver{result: authz.Resolved(helpdeskContext())}, authz.NewFilter(nil))
	rec := httptest.NewRecorder()
	a.Require("manage_roles_all")(okHandler()).ServeHTTP(rec, authedRequest("application/json"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, "forbidden", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestAuthorizer_DenyHTML(t *testing.T) {
	a := NewAuthorizer(&stubResolver{result: authz.Resolved(helpdeskContext())}, authz.NewFilter(nil))
	rec := httptest.NewRecorder()
	a.Require("manage_roles_all")(okHandler()).ServeHTTP(rec, authedRequest("text/html"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "You do not have permission")
}

func TestAuthorizer_UnavailableFailsClosed(t *testing.T) {
	m := metrics.New()
	a := NewAuthorizer(
		&stubResolver{result: authz.Unavailable(errors.New("db down"))},
		authz.NewFilter(authz.NewMetricsObserver(m)),
	)
	rec := httptest.NewRecorder()
	a.Require("")(okHandler()).ServeHTTP(rec, authedRequest("application/json"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisions.WithLabelValues("unavailable")))
}

func TestAuthorizer_NoUserSkipsResolver(t *testing.T) {
	r := &stubResolver{result: authz.Resolved(helpdeskContext())}
	a := NewAuthorizer(r, authz.NewFilter(nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	a.Require("view_beneficiaries_company")(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, r.calls)
}

// ── RequestID / Logger ────────────────────────────────────────

func TestRequestID(t *testing.T) {
	var id string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = ctxkeys.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, id, 36)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", id)
}

func TestLogger(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	m := metrics.New()
	h := Logger(log, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/x", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, 404, entry.Data["status"])
	assert.Equal(t, 4, entry.Data["bytes"])
	assert.Equal(t, "/api/x", entry.Data["path"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("DELETE", "404")))
}

// ── RateLimit ─────────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, rate.Every(10*time.Second), 2)(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, send("1.1.1.1").Code)
	rec := send("1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("2.2.2.2").Code)
}

func TestClientLimiters_Sweep(t *testing.T) {
	now := time.Now()
	c := newClientLimiters(1, 1)
	c.now = func() time.Time { return now }
	c.get("old")
	now = now.Add(limiterIdleAfter + time.Second)
	c.get("fresh")

	c.sweep()
	assert.Len(t, c.limiters, 1)
	assert.Contains(t, c.limiters, "fresh")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
