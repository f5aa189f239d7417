package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/landora/backoffice-gate/internal/middleware"
	"github.com/landora/backoffice-gate/internal/telemetry/metrics"
	"github.com/landora/backoffice-gate/internal/telemetry/tracing"
	"github.com/landora/backoffice-gate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	// SessionCookieName carries the signed admin session token
	SessionCookieName = "admin_session"

	// accessDeniedMessage is deliberately the same for every failure mode,
	// wrong email, wrong password, rate limited or misconfigured alike
	accessDeniedMessage = "Access denied"
)

type Handler struct {
	service       *Service
	loginPath     string
	dashboardPath string
	homePath      string
	cookieMaxAge  int
	secureCookies bool
}

type NewHandlerParams struct {
	Service       *Service
	LoginPath     string
	DashboardPath string
	HomePath      string
	CookieMaxAge  int
	SecureCookies bool
}

func NewHandler(params NewHandlerParams) *Handler {
	return &Handler{
		service:       params.Service,
		loginPath:     params.LoginPath,
		dashboardPath: params.DashboardPath,
		homePath:      params.HomePath,
		cookieMaxAge:  params.CookieMaxAge,
		secureCookies: params.SecureCookies,
	}
}

func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	instr *metrics.Manager,
	loginRateLimitAllowedPerMin int,
) {
	loginSubrouter := mainRouter.PathPrefix(handler.loginPath).Subrouter()
	loginSubrouter.
		HandleFunc("", handler.handleLoginPage).
		Methods("GET").Name("admin-login-page")
	loginSubrouter.
		HandleFunc("", handler.handleLogin).
		Methods("POST", "OPTIONS").Name("admin-login")
	loginSubrouter.
		HandleFunc("/logout", handler.handleLogout).
		Methods("GET", "POST", "OPTIONS").Name("admin-logout")

	// rate limit the login endpoints to prevent abuse
	loginSubrouter.Use(middleware.RateLimit(rateLimiter, "admin-login", loginRateLimitAllowedPerMin, instr))
	loginSubrouter.Use(middleware.Cors())
}

func (handler *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.loginPage")
	defer span.End()

	handler.writeLoginPage(w, http.StatusOK, "")
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	type loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	var loginReq loginRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			log.Errorf("login, unmarshal json params: %s", err)
			http.Error(w, "login failed", http.StatusBadRequest)
			span.SetStatus(codes.Error, "bad-request")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			log.Errorf("login failed, parse form error: %s", err)
			http.Error(w, "parse form error", http.StatusInternalServerError)
			span.SetStatus(codes.Error, "parse-form-err")
			return
		}
		loginReq = loginRequest{
			Email:    r.Form.Get("email"),
			Password: r.Form.Get("password"),
		}
	}

	clientAddr, err := pkg.ReadUserIP(r)
	if err != nil {
		log.Errorf("login failed, read client addr: %s", err)
		clientAddr = r.RemoteAddr
	}

	token, err := handler.service.Login(ctx, loginReq.Email, loginReq.Password, clientAddr)
	if err != nil {
		span.SetStatus(codes.Error, "denied")
		handler.writeLoginPage(w, http.StatusUnauthorized, accessDeniedMessage)
		return
	}

	http.SetCookie(w, handler.sessionCookie(token, handler.cookieMaxAge))
	span.SetStatus(codes.Ok, "granted")
	http.Redirect(w, r, handler.dashboardPath, http.StatusSeeOther)
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.logout")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	// overwrite the cookie with an empty, immediately expiring one
	http.SetCookie(w, handler.sessionCookie("", -1))
	span.SetStatus(codes.Ok, "logged-out")
	http.Redirect(w, r, handler.homePath, http.StatusSeeOther)
}

func (handler *Handler) sessionCookie(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   handler.secureCookies,
	}
}

func (handler *Handler) writeLoginPage(w http.ResponseWriter, statusCode int, errMessage string) {
	errLine := ""
	if errMessage != "" {
		errLine = fmt.Sprintf(`<p class="error">%s</p>`, errMessage)
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Landora Back Office</title></head>
<body>
<form method="post" action="%s">
%s
<input type="email" name="email" placeholder="email" required>
<input type="password" name="password" placeholder="password" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>`, handler.loginPath, errLine)

	pkg.WriteResponse(w, pkg.ContentType.HTML, page, statusCode)
}
