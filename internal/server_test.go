package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/landora/backoffice-gate/internal/auth"
	"github.com/landora/backoffice-gate/internal/config"
	"github.com/landora/backoffice-gate/internal/session"
	"github.com/landora/backoffice-gate/internal/telemetry/metrics"

	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testAdminEmail        = "admin@landora.rs"
	testAdminPassword     = "testpass"
	testAdminPasswordHash = "$2a$14$6Gmhg85si2etd3K9oB8nYu1cxfbrdmhkg6wI6OXsa88IF4L2r/L9i"
	testSigningSecret     = "test-signing-secret"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type allowAllRateLimiter struct{}

func (allowAllRateLimiter) Allow(context.Context, string, redis_rate.Limit) (*redis_rate.Result, error) {
	return &redis_rate.Result{Allowed: 1}, nil
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	cfg := &config.Config{
		Environment:                 "development",
		ProtectedPathPrefix:         "/admin",
		LoginPath:                   "/admin-access",
		DashboardPath:               "/admin/dashboard",
		PublicHomePath:              "/",
		LoginRateLimitAllowedPerMin: 5,
	}

	sessionManager := session.NewManager(testSigningSecret, session.DefaultTTL)
	attemptStore := auth.NewCacheAttemptStore(auth.AttemptWindow)
	instr := metrics.NewTestManager()

	authService := auth.NewService(
		auth.Admin{Email: testAdminEmail, Password: testAdminPasswordHash},
		sessionManager,
		attemptStore,
		nil,
		instr,
	)
	authService.SleepFunc = func(time.Duration) {}

	s := &Server{
		config:         cfg,
		versionInfo:    "test-version",
		reqRateLimiter: allowAllRateLimiter{},
		sessionManager: sessionManager,
		attemptStore:   attemptStore,
		authService:    authService,
		instr:          instr,
	}
	return s.routerSetup()
}

func loginRequest(email, password string) *http.Request {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	req := httptest.NewRequest("POST", "/admin-access", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sessionCookieOf(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.SessionCookieName {
			return cookie
		}
	}
	return nil
}

// drives the whole flow through the assembled router, the way a browser
// would: bounced from the dashboard, login, in, logout, bounced again
func TestServer_LoginFlow(t *testing.T) {
	router := newTestRouter(t)

	// not logged in, the edge gate bounces to the login page
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/admin/dashboard", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/admin-access", rr.Header().Get("Location"))

	// the login page itself is not behind the gate
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/admin-access", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="email"`)

	// wrong credentials, no cookie minted
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, loginRequest(testAdminEmail, "wrong-pass"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Nil(t, sessionCookieOf(rr.Result()))

	// correct credentials
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, loginRequest(testAdminEmail, testAdminPassword))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/admin/dashboard", rr.Header().Get("Location"))
	cookie := sessionCookieOf(rr.Result())
	require.NotNil(t, cookie)
	require.NotEmpty(t, cookie.Value)

	// the cookie opens the dashboard and the session info endpoint
	rr = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin/dashboard", nil)
	req.AddCookie(cookie)
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin/session", nil)
	req.AddCookie(cookie)
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"expiresAt":`)

	// audit trail endpoint is behind the gate too, and disabled without a db
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin/audit", nil)
	req.AddCookie(cookie)
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	// logout clears the cookie and sends the visitor home
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin-access/logout", nil)
	req.AddCookie(cookie)
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/", rr.Header().Get("Location"))
	cleared := sessionCookieOf(rr.Result())
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	// without the cookie the gate bounces again
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/admin/dashboard", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/admin-access", rr.Header().Get("Location"))
}

func TestServer_ForgedCookieBounced(t *testing.T) {
	router := newTestRouter(t)

	otherSessions := session.NewManager("other-secret", session.DefaultTTL)
	forged, err := otherSessions.Sign()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: forged})
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/admin-access", rr.Header().Get("Location"))
}

func TestServer_PublicRoutesOpen(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Landora")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/version", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "test-version", rr.Body.String())
}
