package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/HSouheill/coursemarket_backend/models"
)

var testSecret = []byte("test-secret")

func TestJWTIssuer_GrantRoundTrip(t *testing.T) {
	issuer := NewJWTIssuer(testSecret)

	grant, err := issuer.IssueGrant("acc-1", "ann@x.com")
	require.NoError(t, err)

	id, email, err := issuer.ParseGrant(grant)
	require.NoError(t, err)
	assert.Equal(t, models.AccountID("acc-1"), id)
	assert.Equal(t, "ann@x.com", email)
}

func TestJWTIssuer_RejectsBadGrants(t *testing.T) {
	issuer := NewJWTIssuer(testSecret)

	session, err := issuer.IssueSession("acc-1", "ann@x.com", models.RoleStudent)
	require.NoError(t, err)
	_, _, err = issuer.ParseGrant(session)
	assert.ErrorIs(t, err, ErrInvalidToken, "a login token is not a grant")

	other := NewJWTIssuer([]byte("other-secret"))
	forged, err := other.IssueGrant("acc-1", "ann@x.com")
	require.NoError(t, err)
	_, _, err = issuer.ParseGrant(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTIssuer(testSecret)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.IssueGrant("acc-1", "ann@x.com")
	require.NoError(t, err)
	_, _, err = issuer.ParseGrant(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTIssuer(nil).IssueGrant("acc-1", "ann@x.com")
	assert.Error(t, err)
}

func TestJWTMiddleware(t *testing.T) {
	issuer := NewJWTIssuer(testSecret)
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, err := ExtractAccountID(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(id)+"|"+c.Get("accountType").(string))
	}, JWTMiddleware(testSecret))

	call := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	session, err := issuer.IssueSession("acc-1", "ann@x.com", models.RoleInstructor)
	require.NoError(t, err)
	rec := call(session)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acc-1|instructor", rec.Body.String())

	grant, err := issuer.IssueGrant("acc-1", "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(grant).Code)

	assert.Equal(t, http.StatusUnauthorized, call("garbage").Code)
	assert.NotEqual(t, http.StatusOK, call("").Code)
}

func TestSignupSession(t *testing.T) {
	e := echo.New()
	e.GET("/api/signup/state", func(c echo.Context) error {
		return c.String(http.StatusOK, SessionID(c))
	}, SignupSession(false))

	req := httptest.NewRequest(http.MethodGet, "/api/signup/state", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, cookies[0].Value, rec.Body.String())
	_, err := uuid.Parse(cookies[0].Value)
	require.NoError(t, err)

	// The same cookie keeps the same session
	req = httptest.NewRequest(http.MethodGet, "/api/signup/state", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, cookies[0].Value, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())

	// A forged value is replaced
	req = httptest.NewRequest(http.MethodGet, "/api/signup/state", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "../../etc"})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.NotEqual(t, "../../etc", rec.Body.String())
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.now = func() time.Time { return now }
	limiter.SetEndpointLimit("/api/signup/resend", rate.Every(time.Minute), 2)

	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST("/api/signup/resend", ok, limiter.RateLimit())
	e.GET("/api/signup/state", ok, limiter.RateLimit())

	call := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/api/signup/resend").Code)
	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/api/signup/resend").Code)

	rec := call(http.MethodPost, "/api/signup/resend")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	// Other routes have their own bucket
	assert.Equal(t, http.StatusNoContent, call(http.MethodGet, "/api/signup/state").Code)

	now = now.Add(6 * time.Minute)
	limiter.cleanupBlockedIPs()
	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/api/signup/resend").Code)
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		SecurityHeadersWithConfig(SecurityConfig{AllowedDomains: []string{"https://api.example.com"}}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss: https://api.example.com")
}
